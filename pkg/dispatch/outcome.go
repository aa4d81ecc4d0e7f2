package dispatch

import "fmt"

// Outcome is the result of one delivery attempt: delivered, or failed with a
// reason and a permanence flag. Permanent failures mean the token is dead and
// should be pruned by the caller.
type Outcome struct {
	delivered bool
	reason    string
	permanent bool
}

func Delivered() Outcome {
	return Outcome{delivered: true}
}

func Failed(reason string, permanent bool) Outcome {
	return Outcome{reason: reason, permanent: permanent}
}

func (o Outcome) Delivered() bool { return o.delivered }
func (o Outcome) Reason() string  { return o.reason }
func (o Outcome) Permanent() bool { return !o.delivered && o.permanent }

// Err returns nil for a delivered outcome and a *DeliveryFailure otherwise.
func (o Outcome) Err() error {
	if o.delivered {
		return nil
	}
	return &DeliveryFailure{Reason: o.reason, Permanent: o.permanent}
}

func (o Outcome) String() string {
	if o.delivered {
		return "delivered"
	}
	return fmt.Sprintf("failed(%s, permanent=%t)", o.reason, o.permanent)
}

// TokenError is the per-recipient failure detail carried in a BatchResult.
type TokenError struct {
	Token     string `json:"token"`
	Error     string `json:"error"`
	Permanent bool   `json:"permanent"`
}

// BatchResult aggregates the outcomes of one platform-homogeneous batch.
// Success+Failed always equals the number of recipients in the batch.
type BatchResult struct {
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []TokenError `json:"errors"`
}

// NewBatchResult returns an empty result with a non-nil error list.
func NewBatchResult() *BatchResult {
	return &BatchResult{Errors: []TokenError{}}
}

// Record folds one outcome into the result.
func (r *BatchResult) Record(token string, o Outcome) {
	if o.Delivered() {
		r.Success++
		return
	}
	r.Failed++
	r.Errors = append(r.Errors, TokenError{Token: token, Error: o.Reason(), Permanent: o.Permanent()})
}

// Merge adds other's counts and appends its errors.
func (r *BatchResult) Merge(other *BatchResult) {
	if other == nil {
		return
	}
	r.Success += other.Success
	r.Failed += other.Failed
	r.Errors = append(r.Errors, other.Errors...)
}

// Total is the number of recipients the result accounts for.
func (r *BatchResult) Total() int {
	return r.Success + r.Failed
}

// PermanentTokens lists the tokens whose failures were classified permanent.
func (r *BatchResult) PermanentTokens() []string {
	var out []string
	for _, e := range r.Errors {
		if e.Permanent {
			out = append(out, e.Token)
		}
	}
	return out
}
