package models

// All lists every persisted model, in dependency order.
func All() []any {
	return []any{
		&Farm{},
		&TreeSpecies{},
		&EnvironmentFactor{},
		&TreeBatch{},
		&ProjectPhase{},
		&PhaseTreeAssignment{},
		&CarbonReserve{},
		&CarbonReserveAllocation{},
		&Contract{},
		&ContractRenewal{},
		&ContractTransfer{},
		&Ownership{},
		&OwnershipTransfer{},
		&CarbonCredit{},
		&CreditAllocation{},
		&CreditTransaction{},
		&CreditLedgerEvent{},
	}
}
