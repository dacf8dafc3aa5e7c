package rak3172

// Info holds the static identity of the module firmware and hardware.
type Info struct {
	Firmware   string
	Serial     string
	CLI        string
	API        string
	BuildTime  string
	RepoInfo   string
	Model      string
	HardwareID string
}

// GetFirmwareVersion queries the firmware version.
func (obj *Device) GetFirmwareVersion() (string, error) {
	return obj.command("AT+VER=?")
}

// GetSerialNumber queries the module serial number.
func (obj *Device) GetSerialNumber() (string, error) {
	return obj.command("AT+SN=?")
}

// GetCLIVersion queries the CLI version.
func (obj *Device) GetCLIVersion() (string, error) {
	return obj.command("AT+CLIVER=?")
}

// GetAPIVersion queries the RUI API version.
func (obj *Device) GetAPIVersion() (string, error) {
	return obj.command("AT+APIVER=?")
}

// GetBuildTime queries the firmware build timestamp.
func (obj *Device) GetBuildTime() (string, error) {
	return obj.command("AT+BUILDTIME=?")
}

// GetRepoInfo queries the firmware repository information.
func (obj *Device) GetRepoInfo() (string, error) {
	return obj.command("AT+REPOINFO=?")
}

// GetModel queries the hardware model.
func (obj *Device) GetModel() (string, error) {
	return obj.command("AT+HWMODEL=?")
}

// GetHardwareID queries the MCU identifier.
func (obj *Device) GetHardwareID() (string, error) {
	return obj.command("AT+HWID=?")
}

// UpdateInfo queries the full module identity and caches the snapshot.
func (obj *Device) UpdateInfo() (*Info, error) {
	firmware, err := obj.GetFirmwareVersion()
	if err != nil {
		return nil, err
	}
	serial, err := obj.GetSerialNumber()
	if err != nil {
		return nil, err
	}
	cli, err := obj.GetCLIVersion()
	if err != nil {
		return nil, err
	}
	api, err := obj.GetAPIVersion()
	if err != nil {
		return nil, err
	}
	buildTime, err := obj.GetBuildTime()
	if err != nil {
		return nil, err
	}
	repo, err := obj.GetRepoInfo()
	if err != nil {
		return nil, err
	}
	model, err := obj.GetModel()
	if err != nil {
		return nil, err
	}
	hwID, err := obj.GetHardwareID()
	if err != nil {
		return nil, err
	}
	info := &Info{
		Firmware:   firmware,
		Serial:     serial,
		CLI:        cli,
		API:        api,
		BuildTime:  buildTime,
		RepoInfo:   repo,
		Model:      model,
		HardwareID: hwID,
	}
	obj.info = info
	return info, nil
}

// Info returns the snapshot cached by the last UpdateInfo call, nil when the
// identity was never queried.
func (obj *Device) Info() *Info {
	return obj.info
}
