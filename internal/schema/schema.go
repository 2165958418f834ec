package schema

// SchemaVersion is the current record schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of a record stored in the run log.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventRun
	EventBar
	EventScore
	EventSignal
	EventOrder
	EventFill
	EventPosition
	EventRunResult
)

// String implements fmt.Stringer.
func (t EventType) String() string {
	switch t {
	case EventRun:
		return "Run"
	case EventBar:
		return "Bar"
	case EventScore:
		return "Score"
	case EventSignal:
		return "Signal"
	case EventOrder:
		return "Order"
	case EventFill:
		return "Fill"
	case EventPosition:
		return "Position"
	case EventRunResult:
		return "RunResult"
	default:
		return "Unknown"
	}
}

// EventHeader is the common metadata attached to every record.
//
// TsEvent is the session time of the bar that produced the record, so two
// runs over the same data produce identical headers. TsRecv is wall time and
// is excluded from determinism checks.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
