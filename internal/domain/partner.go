package domain

// ChatPartner is anyone the service converses with.
type ChatPartner interface {
	// ID is the stable record id.
	ID() string
	// Address is the messaging address (an E.164 phone number without '+').
	Address() string
}

type Requester struct {
	RecordID  string
	Phone     string
	Name      string
	Returning bool
}

func (r Requester) ID() string      { return r.RecordID }
func (r Requester) Address() string { return r.Phone }

type Fulfiller struct {
	RecordID string
	Phone    string
	Name     string
}

func (f Fulfiller) ID() string      { return f.RecordID }
func (f Fulfiller) Address() string { return f.Phone }

// DisplayName falls back to the phone number when no name is on record.
func (f Fulfiller) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Phone
}

type Operator struct {
	Phone string
}

func (o Operator) ID() string      { return o.Phone }
func (o Operator) Address() string { return o.Phone }
