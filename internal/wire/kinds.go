package wire

// RequestKind identifies an operation in the request dispatcher (C10).
// Values MUST stay contiguous and in this exact order: the engine's
// per-op counters and the name table below are indexed by RequestKind
// directly (spec.md §6).
type RequestKind uint8

const (
	Invalid RequestKind = iota
	Open
	Close
	Echo
	New
	Alias
	GetAliases
	Find
	Get
	Print
	Set
	Type
	Name
	Length
	Flags
	Info
	Notify
	NotifyCancel
	GetValidationRequest
	SendValidationResponse
	OpenPrintSession
	ClosePrintSession
	GetFirst
	GetNext
	SetFlags
	ClearFlags

	numRequestKinds // sentinel, not a wire value
)

func (k RequestKind) Valid() bool {
	return k > Invalid && k < numRequestKinds
}

// NumRequestKinds returns the number of contiguous request kind slots,
// including INVALID — callers size per-op counter tables against it.
func NumRequestKinds() int {
	return int(numRequestKinds)
}

var requestKindNames = [numRequestKinds]string{
	Invalid:                 "INVALID",
	Open:                    "OPEN",
	Close:                   "CLOSE",
	Echo:                    "ECHO",
	New:                     "NEW",
	Alias:                   "ALIAS",
	GetAliases:              "GET_ALIASES",
	Find:                    "FIND",
	Get:                     "GET",
	Print:                   "PRINT",
	Set:                     "SET",
	Type:                    "TYPE",
	Name:                    "NAME",
	Length:                  "LENGTH",
	Flags:                   "FLAGS",
	Info:                    "INFO",
	Notify:                  "NOTIFY",
	NotifyCancel:            "NOTIFY_CANCEL",
	GetValidationRequest:    "GET_VALIDATION_REQUEST",
	SendValidationResponse:  "SEND_VALIDATION_RESPONSE",
	OpenPrintSession:        "OPEN_PRINT_SESSION",
	ClosePrintSession:       "CLOSE_PRINT_SESSION",
	GetFirst:                "GET_FIRST",
	GetNext:                 "GET_NEXT",
	SetFlags:                "SET_FLAGS",
	ClearFlags:              "CLEAR_FLAGS",
}

func (k RequestKind) String() string {
	if int(k) < len(requestKindNames) {
		return requestKindNames[k]
	}
	return "UNKNOWN"
}

// NotifyKind identifies a notification subscription kind (spec.md §3, §4.3).
type NotifyKind uint8

const (
	NotifyNone NotifyKind = iota
	NotifyModified
	NotifyModifiedQueue
	NotifyCalc
	NotifyValidate
	NotifyPrint

	numNotifyKinds
)

// Unique reports whether at most one subscriber of this kind may ever
// exist per canonical variable (spec.md §3 invariant).
func (k NotifyKind) Unique() bool {
	return k == NotifyCalc || k == NotifyValidate || k == NotifyPrint
}

var notifyKindNames = [numNotifyKinds]string{
	NotifyNone:          "NONE",
	NotifyModified:      "MODIFIED",
	NotifyModifiedQueue: "MODIFIED_QUEUE",
	NotifyCalc:          "CALC",
	NotifyValidate:      "VALIDATE",
	NotifyPrint:         "PRINT",
}

func (k NotifyKind) String() string {
	if int(k) < len(notifyKindNames) {
		return notifyKindNames[k]
	}
	return "UNKNOWN"
}

// ValueType is the variable type tag (spec.md §6), used to index the
// codec table — the ordering is part of the wire contract.
type ValueType uint8

const (
	TypeInvalid ValueType = iota
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeUint64
	TypeInt64
	TypeFloat
	TypeString
	TypeBlob
	TypeEndMarker

	numValueTypes
)

func (t ValueType) Valid() bool {
	return t > TypeInvalid && t < TypeEndMarker
}

var valueTypeNames = [numValueTypes]string{
	TypeInvalid:   "INVALID",
	TypeUint16:    "UINT16",
	TypeInt16:     "INT16",
	TypeUint32:    "UINT32",
	TypeInt32:     "INT32",
	TypeUint64:    "UINT64",
	TypeInt64:     "INT64",
	TypeFloat:     "FLOAT",
	TypeString:    "STR",
	TypeBlob:      "BLOB",
	TypeEndMarker: "END_MARKER",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "UNKNOWN"
}
