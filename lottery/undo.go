package lottery

import "github.com/sirupsen/logrus"

// undoLog collects the compensating actions of a multi-step mutation. When a
// later step fails, rollback runs them newest first so collaborators end up
// as they were before the call.
type undoLog struct {
	log   logrus.FieldLogger
	steps []undoStep
}

type undoStep struct {
	what string
	fn   func() error
}

func (u *undoLog) push(what string, fn func() error) {
	u.steps = append(u.steps, undoStep{what: what, fn: fn})
}

// rollback runs every step even when one fails; failures are logged because
// the caller is already returning the original error.
func (u *undoLog) rollback() {
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i].fn(); err != nil {
			u.log.WithError(err).WithField("step", u.steps[i].what).Error("rollback step failed")
		}
	}
	u.steps = nil
}
