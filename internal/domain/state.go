package domain

type PipelineState string

const (
	StateNew              PipelineState = "NEW"
	StateResolving        PipelineState = "RESOLVING"
	StateResolved         PipelineState = "RESOLVED"
	StateDNSFailed        PipelineState = "DNS_FAILED"
	StatePinging          PipelineState = "PINGING"
	StatePinged           PipelineState = "PINGED"
	StatePingFailed       PipelineState = "PING_FAILED"
	StateCheckingServices PipelineState = "CHECKING_SERVICES"
	StateChecked          PipelineState = "CHECKED"
	StateReporting        PipelineState = "REPORTING"
	StateDone             PipelineState = "DONE"
)

var transitions = map[PipelineState][]PipelineState{
	StateNew:              {StateResolving},
	StateResolving:        {StateResolved, StateDNSFailed},
	StateResolved:         {StatePinging, StateCheckingServices},
	StateDNSFailed:        {StateReporting},
	StatePinging:          {StatePinged, StatePingFailed},
	StatePinged:           {StateCheckingServices},
	StatePingFailed:       {StateCheckingServices},
	StateCheckingServices: {StateChecked},
	StateChecked:          {StateReporting},
	StateReporting:        {StateDone},
}

// CanTransition reports whether next is a legal successor of s.
func (s PipelineState) CanTransition(next PipelineState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s PipelineState) Terminal() bool {
	return s == StateDone
}
