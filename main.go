package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbalug7/go-rak-lora/pkg/hal"
	"github.com/mbalug7/go-rak-lora/pkg/rak3172"
)

func main() {
	// quick ABP bring-up without a profile file
	// module UART -> /dev/ttyUSB0, RUI3 default baud rate
	conn, err := hal.NewSerialHandler("/dev/ttyUSB0", 115200)
	if err != nil {
		log.Fatal(err)
	}

	device := rak3172.NewDevice(conn)

	// replace the session keys and address with the ones of your application
	err = device.InitLoRaWAN(rak3172.LoRaWANConfig{
		Band:     rak3172.BAND_EU868,
		Class:    rak3172.CLASS_A,
		JoinMode: rak3172.JOIN_MODE_ABP,
		ADR:      true,
		TxPower:  14,
		AppSKey:  make([]byte, 16),
		NwkSKey:  make([]byte, 16),
		DevAddr:  make([]byte, 4),
	})
	if err != nil {
		log.Fatal(err)
	}

	// an ABP session needs no join procedure, the module reports joined
	// right after the keys are programmed
	joined, err := device.IsJoined()
	if err != nil {
		log.Fatal(err)
	}
	if !joined {
		log.Fatal("module did not accept the ABP session")
	}

	err = device.Transmit(1, []byte("ping"), false, 15*time.Second)
	if err != nil {
		log.Printf("failed to send data: %s", err)
	}

	signalInterruptChan := make(chan os.Signal, 1)
	signal.Notify(signalInterruptChan, os.Interrupt, syscall.SIGTERM)
	<-signalInterruptChan
	err = conn.Close()
	if err != nil {
		log.Printf("failed to close communication with the module: %s", err)
	}
}
