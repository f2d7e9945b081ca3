package event

// Raw category strings and detail type codes observed on the backend. This
// is the one table to revalidate against live responses when the protocol
// drifts.

var categoryCodes = map[string]Category{
	"drycontact":   CategoryRelayActivation,
	"notification": CategoryNotification,
	"call":         CategoryAnsweredCall,
	"missedcall":   CategoryMissedCall,
	"connected":    CategoryConnected,
	"disconnected": CategoryDisconnected,
}

var subCategoryCodes = map[int]SubCategory{
	0:  SubMotionPhoto,
	3:  SubAnsweredCall,
	6:  SubRing,
	7:  SubShake,
	8:  SubMissedCall,
	10: SubRelayActivation,
	11: SubMotionVideo,
	12: SubDeviceUnreachable,
	13: SubDeviceReachable,
}

// NoCode is the raw code recorded when the backend omits the detail type.
const NoCode = -1
