package models

// All lists every persisted model, in migration order.
func All() []any {
	return []any{
		&Coach{},
		&CreditTransaction{},
		&Participant{},
		&ChatSession{},
		&ChatSessionMember{},
		&ChatMessage{},
		&ReadMarker{},
		&Campaign{},
		&Reservation{},
		&PlatformSettings{},
		&ConceptSettings{},
	}
}
