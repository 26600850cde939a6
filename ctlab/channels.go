package ctlab

// Subchannels common to all modules.
const (
	ChDisplay  = 80
	ChIdentity = 254
	ChStatus   = 255

	// Calibration constants live at ChOffsetBase+n and ChScaleBase+n.
	ChOffsetBase = 100
	ChScaleBase  = 200

	// ChTemperature is the heat sink temperature on power modules.
	ChTemperature = 233
)

// MnemonicWriteEnable toggles the EEPROM write enable.
const MnemonicWriteEnable = "wen"

// DCG subchannels.
const (
	DCGVoltage         = 0
	DCGCurrent         = 1
	DCGCharge          = 7
	DCGMeasuredVoltage = 10
	DCGMeasuredCurrent = 11
	DCGPulseVoltage    = 20
	DCGPulseCurrent    = 21
)

// DCG display menus.
const (
	DCGDisplayVoltage = iota
	DCGDisplayCurrent
	DCGDisplayRipplePercent
	DCGDisplayRippleOnTime
	DCGDisplayRippleOffTime
	DCGDisplayTrackChannel
	DCGDisplayEnergy
	DCGDisplayPower
)

// DCGCurrentLimited is the status text flag set while the DCG limits current.
const DCGCurrentLimited = "ICONST"

// ADA-IO subchannel bases; the analog channel index (0..7) is added.
const (
	ADAIOChannels = 8
	ADAIOAD10Base = 0
	ADAIOAD16Base = 10
	ADAIODA12Base = 20
)

// EDL subchannels.
const (
	EDLEnable          = 0
	EDLCurrent         = 1
	EDLPower           = 3
	EDLVoltage         = 4 // undervoltage lockout
	EDLResistance      = 5
	EDLCharge          = 7
	EDLEnergy          = 8
	EDLResetCharge     = 8
	EDLResetEnergy     = 9
	EDLVoltageOn       = 10
	EDLCurrentOn       = 11
	EDLVoltageOff      = 15
	EDLCurrentOff      = 16
	EDLMeasuredPower   = 18
	EDLRange           = 19
	EDLPulseCurrent    = 21
	EDLRippleOnTime    = 27
	EDLRippleOffTime   = 28
	EDLRipple          = 29
	EDLTriggerMode     = 240
	EDLTriggerInput    = 0x01
	EDLAutoTrigger     = 0x02
	edlTriggerModeMask = EDLTriggerInput | EDLAutoTrigger
)

// EDLRangeMode selects what the electronic load regulates.
type EDLRangeMode int

const (
	EDLRangeOff EDLRangeMode = iota
	EDLRangeCurrentHigh
	EDLRangeCurrentLow
	EDLRangeResistanceHigh
	EDLRangeResistanceLow
	EDLRangePowerHigh
	EDLRangePowerLow
)

func (m EDLRangeMode) valid() bool {
	return m >= EDLRangeOff && m <= EDLRangePowerLow
}

// EDL display menus.
const (
	EDLDisplayCurrent = iota
	EDLDisplayVoltage
	EDLDisplayMode
	EDLDisplayOnTime
	EDLDisplayOffTime
	EDLDisplayOffCurrent
	EDLDisplayTrack
)
