package portal

// GuardKind selects the access rule applied by a route guard
type GuardKind int

const (
	GuardStandard GuardKind = iota
	GuardAdmin
)

func (k GuardKind) String() string {
	switch k {
	case GuardAdmin:
		return "admin"
	default:
		return "standard"
	}
}

// Outcome is the single result a guard produces for a request
type Outcome int

const (
	OutcomeWait Outcome = iota
	OutcomeRedirect
	OutcomeRender
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRender:
		return "render"
	default:
		return "wait"
	}
}

// Decision describes what a guard does with a request. Redirect and From
// are only set for OutcomeRedirect.
type Decision struct {
	Outcome  Outcome
	Redirect string
	From     string
}

// Decide is a pure function of the snapshot: while loading it waits,
// without a principal it redirects to login carrying the requested
// location, and with a principal the admin guard only renders for
// administrators, sending everyone else to the dashboard.
func Decide(kind GuardKind, snap Snapshot, requested string) Decision {
	if snap.Loading {
		return Decision{Outcome: OutcomeWait}
	}

	if snap.Principal == nil {
		return Decision{
			Outcome:  OutcomeRedirect,
			Redirect: PathLogin,
			From:     requested,
		}
	}

	if kind == GuardAdmin && !snap.IsAdministrator() {
		return Decision{
			Outcome:  OutcomeRedirect,
			Redirect: PathDashboard,
		}
	}

	return Decision{Outcome: OutcomeRender}
}
