package sensor

import "time"

// Register addresses.
const (
	regChipVersion   = 0x3000
	regResetControl  = 0x301A
	regStandby       = 0x3202
	regPadSlew       = 0x3214
	regPLLControl    = 0x341E
	regPLLDividers   = 0x341C
	regMCUBootMode   = 0x3386
	regMCUAddress    = 0x338C
	regMCUData       = 0x3390
	regColorKill     = 0x35A4
	regYRGBOffset    = 0x337E
	regColorTune     = 0x32A2
	regDefectControl = 0x33F4
)

// MCU variables.
const (
	varSeqMode       = 0xA102
	varSeqCmd        = 0xA103
	varSeqCaptureMod = 0xA120
)

// Sequencer commands written to varSeqCmd.
const (
	seqGotoPreview = 1
	seqGotoCapture = 2
	seqRefresh     = 5
	seqRefreshMode = 6
)

// Sequencer modes written to varSeqMode.
const (
	modeNone   = 0x00
	modeAE6500 = 0x21 // 6500K white point with auto exposure
)

// ChipVersion is the value of the chip version register on an MT9D112.
const ChipVersion = 0x1580

// step is one entry of a register program. Variable steps address the
// MCU variable space through the indirect address and data registers.
type step struct {
	variable bool
	address  uint16
	value    uint16
	settle   time.Duration
}

func reg(address, value uint16) step { return step{address: address, value: value} }

func mcu(variable, value uint16) step { return step{variable: true, address: variable, value: value} }

func wait(d time.Duration) step { return step{settle: d} }

// bootProgram pulses the MCU reset, configures the parallel port and
// brings the PLL up at 50 MHz from a 10 MHz input.
var bootProgram = []step{
	reg(regMCUBootMode, 0x2501),
	reg(regMCUBootMode, 0x2500),
	wait(100 * time.Millisecond),
	reg(regResetControl, 0x0ACC),
	reg(regStandby, 0x0008),
	wait(100 * time.Millisecond),
	reg(regPadSlew, 0x0080),
	reg(regPLLControl, 0x8F09),
	reg(regPLLDividers, 0x0150),
	wait(5 * time.Millisecond),
	reg(regPLLControl, 0x8F09),
	reg(regPLLControl, 0x8F08),
}

// previewProgram sets context A to 640x480 with binning.
var previewProgram = []step{
	mcu(0x2703, 640),
	mcu(0x2705, 480),
	mcu(0x270D, 0x0078), // row start
	mcu(0x270F, 0x00A0), // column start
	mcu(0x2711, 0x044D), // row end
	mcu(0x2713, 0x05B5), // column end
	mcu(0x2715, 0x00AF),
	mcu(0x2717, 0x2111),
	mcu(0x2719, 0x046C), // x and y binning
	mcu(0x271B, 0x024F),
	mcu(0x271D, 0x0102),
	mcu(0x271F, 0x0279),
	mcu(0x2721, 0x0155),
	mcu(0x2723, 0x01E0), // frame lines
	mcu(0x2725, 0x0340), // line length
	mcu(0x2727, 0x2020),
	mcu(0x2729, 0x2020),
	mcu(0x272B, 0x1020),
	mcu(0x272D, 0x2007),
	mcu(0x2751, 0x0000), // crop
	mcu(0x2753, 0x0280),
	mcu(0x2755, 0x0000),
	mcu(0x2757, 0x01E0),
	mcu(0x2795, 0x0002), // YUV, swapped chrominance
}

// captureProgram sets context B to the full 1600x1200 array.
var captureProgram = []step{
	mcu(0x2707, 0x0640),
	mcu(0x2709, 0x04B0),
	mcu(0x272F, 0x0004),
	mcu(0x2731, 0x0004),
	mcu(0x2733, 0x04BB),
	mcu(0x2735, 0x064B),
	mcu(0x2737, 0x007C),
	mcu(0x2739, 0x2111),
	mcu(0x273B, 0x0024), // no binning
	mcu(0x273D, 0x0120),
	mcu(0x2741, 0x0169),
	mcu(0x2745, 0x04D0),
	mcu(0x2747, 0x08EC),
	mcu(0x275F, 0x0000),
	mcu(0x2761, 0x0640),
	mcu(0x2763, 0x0000),
	mcu(0x2765, 0x04B0),
	mcu(0x2797, 0x0002),
}

// exposureProgram covers auto exposure, black level and the sequencer
// thresholds, then refreshes the sequencer.
var exposureProgram = []step{
	mcu(0xA215, 0x0006),
	mcu(0xA206, 0x0036), // target brightness
	mcu(0xA207, 0x0040),
	mcu(0xA20C, 0x0008),
	reg(0x3278, 0x0050),
	reg(0x327A, 0x0050),
	reg(0x327C, 0x0050),
	reg(0x327E, 0x0050),
	reg(0x3280, 0x0050),
	wait(10 * time.Millisecond),
	reg(regYRGBOffset, 0x2000),
	mcu(0xA34A, 0x0059), // AWB gain limits
	mcu(0xA34B, 0x00A6),
	reg(regColorTune, 0x3640),
	mcu(0xA353, 0x0002),
	mcu(0xA302, 0x0000),
	mcu(0xA303, 0x00EF),
	reg(regColorKill, 0x0596),
	mcu(0xA118, 0x001E),
	mcu(0xA119, 0x0004),
	mcu(0xA11A, 0x000A),
	mcu(0xA11B, 0x0020),
	mcu(0x222E, 0x0090), // flicker step
	mcu(0xA408, 0x001A),
	mcu(0xA409, 0x001D),
	mcu(0xA40A, 0x0020),
	mcu(0xA40B, 0x0023),
	mcu(varSeqCmd, seqRefreshMode),
	wait(100 * time.Millisecond),
	mcu(varSeqCmd, seqRefresh),
	wait(100 * time.Millisecond),
	reg(regDefectControl, 0x031D),
}
