package uvc

// Video class codes.
const (
	ClassVideo                   = 0x0E
	SubclassVideoControl         = 0x01
	SubclassVideoStreaming       = 0x02
	SubclassVideoInterfaceColl   = 0x03
	ProtocolUndefined            = 0x00
	ClassMisc                    = 0xEF // Device class for IAD composites
	SubclassCommon               = 0x02
	ProtocolInterfaceAssociation = 0x01
)

// Class-specific descriptor types.
const (
	DescriptorTypeCSInterface = 0x24
	DescriptorTypeCSEndpoint  = 0x25
)

// Video control interface descriptor subtypes.
const (
	VCHeader         = 0x01
	VCInputTerminal  = 0x02
	VCOutputTerminal = 0x03
	VCSelectorUnit   = 0x04
	VCProcessingUnit = 0x05
	VCExtensionUnit  = 0x06
)

// Video streaming interface descriptor subtypes.
const (
	VSInputHeader          = 0x01
	VSFormatUncompressed   = 0x04
	VSFrameUncompressed    = 0x05
	VSColorFormat          = 0x0D
	VSStillImageFrame      = 0x03
	VSFormatMJPEG          = 0x06
	VSFrameMJPEG           = 0x07
	VSFormatFrameBased     = 0x10
	VSFrameFrameBased      = 0x11
	EndpointSubtypeGeneral = 0x01
)

// Terminal types.
const (
	TerminalStreaming = 0x0101 // USB streaming output terminal
	TerminalCamera    = 0x0201 // Camera sensor input terminal
)

// Class request codes.
const (
	RequestSetCur  = 0x01
	RequestGetCur  = 0x81
	RequestGetMin  = 0x82
	RequestGetMax  = 0x83
	RequestGetRes  = 0x84
	RequestGetLen  = 0x85
	RequestGetInfo = 0x86
	RequestGetDef  = 0x87
)

// Video streaming interface control selectors, carried in the high byte of
// wValue.
const (
	VSProbeControl  = 0x01
	VSCommitControl = 0x02
)

// Camera terminal control selectors.
const (
	CTZoomAbsolute    = 0x0B
	CTPanTiltAbsolute = 0x0D
)

// GET_INFO capability bits.
const (
	InfoSupportsGet = 0x01
	InfoSupportsSet = 0x02
)

// Vendor requests.
const (
	VendorRequestFocus         = 0xAC
	VendorRequestI2CRead       = 0xAD
	VendorRequestI2CWrite      = 0xAE
	VendorRequestStartAnalyser = 0xAF
)

// Entity IDs of the video function topology.
const (
	EntityCameraTerminal = 1
	EntityProcessingUnit = 2
	EntityExtensionUnit  = 3
	EntityOutputTerminal = 4
)

// Interface numbers of the video function.
const (
	InterfaceControl = 0
	InterfaceStream  = 1
)

// Endpoint addresses.
const (
	EndpointVideo     = 0x83 // Bulk IN, video payloads
	EndpointAnalyser  = 0x81 // Bulk IN, diagnostic capture
	EndpointInterrupt = 0x82 // Interrupt IN, status
)

// DMA geometry.
const (
	BufferSize         = 16384
	BufferCount        = 4
	VideoHeaderSize    = 12
	VideoFooterSize    = 4
	AnalyserFooterSize = 16
)

// FullBufferPayload is the payload byte count of a completely filled video
// buffer. Anything shorter ends a frame.
const FullBufferPayload = BufferSize - VideoHeaderSize - VideoFooterSize
