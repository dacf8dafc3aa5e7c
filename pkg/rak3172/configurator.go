package rak3172

// P2PConfigBuilder object that is used to build the P2P radio config
// it is possible to reconfigure only one parameter
type P2PConfigBuilder struct {
	device       *Device
	stagedConfig P2PConfig
}

// NewP2PConfigBuilder constructs P2PConfigBuilder, staging the configuration
// currently programmed in the module
func NewP2PConfigBuilder(device *Device) (*P2PConfigBuilder, error) {
	current, err := device.GetP2PConfig()
	if err != nil {
		return nil, err
	}
	return &P2PConfigBuilder{
		device:       device,
		stagedConfig: current, // copy current values
	}, nil
}

// Frequency set carrier frequency in Hz
func (obj *P2PConfigBuilder) Frequency(hz uint32) *P2PConfigBuilder {
	obj.stagedConfig.Frequency = hz
	return obj
}

// SpreadingFactor set P2P spreading factor
func (obj *P2PConfigBuilder) SpreadingFactor(sf SpreadingFactor) *P2PConfigBuilder {
	obj.stagedConfig.Spreading = sf
	return obj
}

// Bandwidth set P2P bandwidth
func (obj *P2PConfigBuilder) Bandwidth(bw Bandwidth) *P2PConfigBuilder {
	obj.stagedConfig.Bandwidth = bw
	return obj
}

// CodeRate set P2P coding rate
func (obj *P2PConfigBuilder) CodeRate(cr CodeRate) *P2PConfigBuilder {
	obj.stagedConfig.CodeRate = cr
	return obj
}

// Preamble set P2P preamble length
func (obj *P2PConfigBuilder) Preamble(length uint16) *P2PConfigBuilder {
	obj.stagedConfig.Preamble = length
	return obj
}

// Power set P2P transmit power in dBm
func (obj *P2PConfigBuilder) Power(dbm int) *P2PConfigBuilder {
	obj.stagedConfig.Power = dbm
	return obj
}

// Write validates the staged configuration and programs it with one combined
// command
func (obj *P2PConfigBuilder) Write() error {
	if err := obj.stagedConfig.validate(); err != nil {
		return err
	}
	return obj.device.writeP2PConfig(obj.stagedConfig)
}
