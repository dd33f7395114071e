package epd

import "fmt"

// Command is a controller opcode. Values match the 7.5" bc panel datasheet.
type Command byte

const (
	PanelSetting               Command = 0x00
	PowerSetting               Command = 0x01
	PowerOff                   Command = 0x02
	PowerOffSequenceSetting    Command = 0x03
	PowerOn                    Command = 0x04
	PowerOnMeasure             Command = 0x05
	BoosterSoftStart           Command = 0x06
	DeepSleep                  Command = 0x07
	DataStartTransmission1     Command = 0x10
	DataStop                   Command = 0x11
	DisplayRefresh             Command = 0x12
	ImageProcess               Command = 0x13
	LutForVcom                 Command = 0x20
	LutBlue                    Command = 0x21
	LutWhite                   Command = 0x22
	LutGray1                   Command = 0x23
	LutGray2                   Command = 0x24
	LutRed0                    Command = 0x25
	LutRed1                    Command = 0x26
	LutRed2                    Command = 0x27
	LutRed3                    Command = 0x28
	LutXon                     Command = 0x29
	PllControl                 Command = 0x30
	TemperatureSensorCommand   Command = 0x40
	TemperatureCalibration     Command = 0x41
	TemperatureSensorWrite     Command = 0x42
	TemperatureSensorRead      Command = 0x43
	VcomAndDataIntervalSetting Command = 0x50
	LowPowerDetection          Command = 0x51
	TconSetting                Command = 0x60
	TconResolution             Command = 0x61
	SpiFlashControl            Command = 0x65
	Revision                   Command = 0x70
	GetStatus                  Command = 0x71
	AutoMeasurementVcom        Command = 0x80
	ReadVcomValue              Command = 0x81
	VcmDcSetting               Command = 0x82
	FlashMode                  Command = 0xE5
)

// deepSleepCheck must follow DeepSleep as its only data byte.
const deepSleepCheck byte = 0xA5

var commandNames = map[Command]string{
	PanelSetting:               "PanelSetting",
	PowerSetting:               "PowerSetting",
	PowerOff:                   "PowerOff",
	PowerOffSequenceSetting:    "PowerOffSequenceSetting",
	PowerOn:                    "PowerOn",
	PowerOnMeasure:             "PowerOnMeasure",
	BoosterSoftStart:           "BoosterSoftStart",
	DeepSleep:                  "DeepSleep",
	DataStartTransmission1:     "DataStartTransmission1",
	DataStop:                   "DataStop",
	DisplayRefresh:             "DisplayRefresh",
	ImageProcess:               "ImageProcess",
	LutForVcom:                 "LutForVcom",
	LutBlue:                    "LutBlue",
	LutWhite:                   "LutWhite",
	LutGray1:                   "LutGray1",
	LutGray2:                   "LutGray2",
	LutRed0:                    "LutRed0",
	LutRed1:                    "LutRed1",
	LutRed2:                    "LutRed2",
	LutRed3:                    "LutRed3",
	LutXon:                     "LutXon",
	PllControl:                 "PllControl",
	TemperatureSensorCommand:   "TemperatureSensorCommand",
	TemperatureCalibration:     "TemperatureCalibration",
	TemperatureSensorWrite:     "TemperatureSensorWrite",
	TemperatureSensorRead:      "TemperatureSensorRead",
	VcomAndDataIntervalSetting: "VcomAndDataIntervalSetting",
	LowPowerDetection:          "LowPowerDetection",
	TconSetting:                "TconSetting",
	TconResolution:             "TconResolution",
	SpiFlashControl:            "SpiFlashControl",
	Revision:                   "Revision",
	GetStatus:                  "GetStatus",
	AutoMeasurementVcom:        "AutoMeasurementVcom",
	ReadVcomValue:              "ReadVcomValue",
	VcmDcSetting:               "VcmDcSetting",
	FlashMode:                  "FlashMode",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(%#02x)", byte(c))
}
