package rak3172

import (
	"testing"

	"github.com/mbalug7/go-rak-lora/pkg/hal"
	"github.com/stretchr/testify/require"
)

func TestUpdateInfoCollectsIdentity(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+VER=?", "RUI_4.1.0_RAK3172-E")
	conn.reply("AT+SN=?", "0102030405060708")
	conn.reply("AT+CLIVER=?", "1.5.8")
	conn.reply("AT+APIVER=?", "4.1.0")
	conn.reply("AT+BUILDTIME=?", "20230505-1200")
	conn.reply("AT+REPOINFO=?", "rui3-release")
	conn.reply("AT+HWMODEL=?", "rak3172")
	conn.reply("AT+HWID=?", "stm32wle5xx")

	info, err := dev.UpdateInfo()
	require.NoError(t, err)
	require.Equal(t, &Info{
		Firmware:   "RUI_4.1.0_RAK3172-E",
		Serial:     "0102030405060708",
		CLI:        "1.5.8",
		API:        "4.1.0",
		BuildTime:  "20230505-1200",
		RepoInfo:   "rui3-release",
		Model:      "rak3172",
		HardwareID: "stm32wle5xx",
	}, info)
	require.Equal(t, info, dev.Info())
}

func TestUpdateInfoStopsOnFailure(t *testing.T) {
	dev, conn := newTestDevice(t)
	conn.reply("AT+VER=?", "RUI_4.1.0_RAK3172-E")
	conn.fail("AT+SN=?", &hal.ResponseError{Status: "AT_ERROR"})

	_, err := dev.UpdateInfo()
	require.ErrorIs(t, err, ErrInvalidResponse)
	require.Nil(t, dev.Info())
}
