package domain

// Disposition is the outcome code recorded for a single call attempt.
type Disposition string

const (
	// Success.
	DispositionComplete Disposition = "complete"

	// Callback.
	DispositionCallbackRequested Disposition = "callback_requested"

	// Hard terminal.
	DispositionHardRefusal       Disposition = "hard_refusal"
	DispositionIneligible        Disposition = "ineligible"
	DispositionDeceased          Disposition = "deceased"
	DispositionDisconnected      Disposition = "disconnected"
	DispositionWrongNumber       Disposition = "wrong_number"
	DispositionInstitutionalized Disposition = "institutionalized"

	// Soft / non-contact, subject to the retry policy.
	DispositionNoAnswer              Disposition = "no_answer"
	DispositionBusy                  Disposition = "busy"
	DispositionVoicemail             Disposition = "voicemail"
	DispositionRespondentUnavailable Disposition = "respondent_unavailable"
	DispositionLanguageBarrier       Disposition = "language_barrier"
	DispositionSoftRefusal           Disposition = "soft_refusal"
	DispositionRefusedGatekeeper     Disposition = "refused_gatekeeper"
	DispositionSystemError           Disposition = "system_error"
	DispositionInterviewerError      Disposition = "interviewer_error"
)

// FinalDispositionMaxAttempts marks a case exhausted by the attempt cap
// rather than a recorded outcome.
const FinalDispositionMaxAttempts Disposition = "max_attempts_reached"

var hardTerminal = map[Disposition]bool{
	DispositionHardRefusal:       true,
	DispositionIneligible:        true,
	DispositionDeceased:          true,
	DispositionDisconnected:      true,
	DispositionWrongNumber:       true,
	DispositionInstitutionalized: true,
}

var retryable = map[Disposition]bool{
	DispositionNoAnswer:              true,
	DispositionBusy:                  true,
	DispositionVoicemail:             true,
	DispositionRespondentUnavailable: true,
	DispositionLanguageBarrier:       true,
	DispositionSoftRefusal:           true,
	DispositionRefusedGatekeeper:     true,
	DispositionSystemError:           true,
	DispositionInterviewerError:      true,
}

// nonContact dispositions never reached a person.
var nonContact = map[Disposition]bool{
	DispositionNoAnswer:     true,
	DispositionBusy:         true,
	DispositionVoicemail:    true,
	DispositionDisconnected: true,
}

// Valid reports whether d belongs to the disposition taxonomy.
func (d Disposition) Valid() bool {
	return d == DispositionComplete || d == DispositionCallbackRequested || hardTerminal[d] || retryable[d]
}

// IsCallback reports whether d schedules a respondent-requested callback.
func (d Disposition) IsCallback() bool { return d == DispositionCallbackRequested }

// IsHardTerminal reports whether d permanently removes the case from the pool.
func (d Disposition) IsHardTerminal() bool { return hardTerminal[d] }

// IsRetryable reports whether d falls under the soft/non-contact retry policy.
func (d Disposition) IsRetryable() bool { return retryable[d] }

// IsContact reports whether the attempt reached a person.
func (d Disposition) IsContact() bool { return !nonContact[d] }
