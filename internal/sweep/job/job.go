package job

import (
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/paramsweep/internal/common/sweeperrors"
	"github.com/G-Research/paramsweep/internal/sweep/params"
)

type Status int

const (
	Pending Status = iota
	Submitted
	Completed
	// Failed is terminal like Completed, but the job has no usable result.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Submitted:
		return "Submitted"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func ParseStatus(s string) (Status, error) {
	for _, status := range []Status{Pending, Submitted, Completed, Failed} {
		if status.String() == s {
			return status, nil
		}
	}
	return Pending, errors.WithStack(&sweeperrors.ErrInvalidArgument{Name: "Status", Value: s})
}

func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Handle identifies a job to the scheduler gateway that accepted it.
type Handle struct {
	Identity string
	// Path of the wrapper script, if the gateway wrote one.
	Script string
	// Id assigned by the scheduler, if it reported one.
	SchedulerId string
}

// Descriptor is a single unit of work.
type Descriptor struct {
	// Hex digest of the rendered command; identical work has the same identity.
	Identity   string
	Label      string
	Parameters params.ParameterSet
	// Fully rendered command line, including the identity flag.
	Command     string
	Status      Status
	Submissions int
	SubmittedAt *time.Time
	FinishedAt  *time.Time
	Result      *float64
	Handle      Handle
	// Reason for the last failed submission, if any.
	Error string
}

func NewDescriptor(label string, command CommandTemplate, parameters params.ParameterSet) *Descriptor {
	identity, rendered := command.Render(parameters)
	return &Descriptor{
		Identity:   identity,
		Label:      label,
		Parameters: parameters,
		Command:    rendered,
		Status:     Pending,
		Handle:     Handle{Identity: identity},
	}
}

// Fitness returns the result, or NaN if there is none.
func (d *Descriptor) Fitness() float64 {
	if d.Result == nil {
		return math.NaN()
	}
	return *d.Result
}

func (d *Descriptor) DeepCopy() *Descriptor {
	if d == nil {
		return nil
	}
	rv := *d
	if d.SubmittedAt != nil {
		t := *d.SubmittedAt
		rv.SubmittedAt = &t
	}
	if d.FinishedAt != nil {
		t := *d.FinishedAt
		rv.FinishedAt = &t
	}
	if d.Result != nil {
		r := *d.Result
		rv.Result = &r
	}
	return &rv
}
