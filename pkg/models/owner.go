package models

import (
	"fmt"

	"github.com/google/uuid"
)

// OwnerKind identifies which side of the one-of {property, competitor}
// constraint an owner is.
type OwnerKind string

const (
	OwnerKindProperty   OwnerKind = "property"
	OwnerKindCompetitor OwnerKind = "competitor"
)

// Owner is the owning entity of rate rows and uploads: exactly one of
// property or competitor, never both, never neither. Construct through
// NewPropertyOwner / NewCompetitorOwner so the constraint holds.
type Owner struct {
	kind OwnerKind
	id   uuid.UUID
	name string
}

func NewPropertyOwner(id uuid.UUID, name string) Owner {
	return Owner{kind: OwnerKindProperty, id: id, name: name}
}

func NewCompetitorOwner(id uuid.UUID, name string) Owner {
	return Owner{kind: OwnerKindCompetitor, id: id, name: name}
}

func (o Owner) Kind() OwnerKind {
	return o.kind
}

func (o Owner) ID() uuid.UUID {
	return o.id
}

// Name is the display name of the owning entity, used in batch error summaries.
func (o Owner) Name() string {
	return o.name
}

func (o Owner) IsZero() bool {
	return o.kind == "" || o.id == uuid.Nil
}

// PropertyID returns the property id column value (nil for competitors).
func (o Owner) PropertyID() *uuid.UUID {
	if o.kind == OwnerKindProperty {
		id := o.id
		return &id
	}
	return nil
}

// CompetitorID returns the competitor id column value (nil for properties).
func (o Owner) CompetitorID() *uuid.UUID {
	if o.kind == OwnerKindCompetitor {
		id := o.id
		return &id
	}
	return nil
}

func (o Owner) String() string {
	return fmt.Sprintf("%s/%s", o.kind, o.id)
}

// OwnerFromIDs builds an Owner from the nullable foreign-key pair as stored in
// the database or received on the webhook, enforcing the one-of constraint.
func OwnerFromIDs(propertyID, competitorID *uuid.UUID) (Owner, error) {
	switch {
	case propertyID != nil && competitorID != nil:
		return Owner{}, fmt.Errorf("both property_id and competitor_id are set")
	case propertyID != nil:
		return NewPropertyOwner(*propertyID, ""), nil
	case competitorID != nil:
		return NewCompetitorOwner(*competitorID, ""), nil
	default:
		return Owner{}, fmt.Errorf("neither property_id nor competitor_id is set")
	}
}
