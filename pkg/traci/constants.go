package traci

// Command identifiers.
const (
	CmdGetVersion = 0x00
	CmdSimStep    = 0x02
	CmdSetOrder   = 0x03
	CmdClose      = 0x7F
)

// Domain command identifiers. The get response of a domain is its get
// command plus 0x10; the subscription response is its subscribe command
// plus 0x10.
const (
	CmdGetTLVariable        = 0xa2
	CmdGetVehicleVariable   = 0xa4
	CmdGetVehicleTypeVar    = 0xa5
	CmdGetRouteVariable     = 0xa6
	CmdGetSimVariable       = 0xab
	CmdSetTLVariable        = 0xc2
	CmdSetVehicleVariable   = 0xc4
	CmdSubscribeTLVariable  = 0xd2
	CmdSubscribeVehicleVar  = 0xd4
	CmdSubscribeSimVariable = 0xdb
	ResponseSubTLVariable   = 0xe2
	ResponseSubVehicleVar   = 0xe4
	ResponseSubSimVariable  = 0xeb

	responseOffset = 0x10
)

// Result codes of a status response.
const (
	RTypeOK             = 0x00
	RTypeNotImplemented = 0x01
	RTypeErr            = 0xFF
)

// Data types.
const (
	TypePosition2D = 0x01
	TypePosition3D = 0x03
	TypeUByte      = 0x07
	TypeByte       = 0x08
	TypeInteger    = 0x09
	TypeDouble     = 0x0B
	TypeString     = 0x0C
	TypeStringList = 0x0E
	TypeCompound   = 0x0F
	TypeDoubleList = 0x10
	TypeColor      = 0x11
)

// Variables shared by all domains.
const (
	VarIDList  = 0x00
	VarIDCount = 0x01
)

// Vehicle variables.
const (
	VarSpeed    = 0x40
	VarPosition = 0x42
	VarAngle    = 0x43
	VarColor    = 0x45
	VarType     = 0x4f
	VarRouteID  = 0x53
	VarAddFull  = 0x85
)

// Traffic light variables.
const (
	VarTLRedYellowGreenState = 0x20
	VarTLPhaseIndex          = 0x22
	VarTLProgram             = 0x23
	VarTLControlledLinks     = 0x27
	VarTLCompleteDefinition  = 0x2b
)

// Simulation variables.
const (
	VarTime        = 0x66
	VarDepartedIDs = 0x74
	VarArrivedIDs  = 0x7a
)

// InvalidDouble asks the engine for the widest subscription interval.
const InvalidDouble = -1073741824.0
