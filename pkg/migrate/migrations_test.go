package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/forestcarbon-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestCarbonCreditMigrationEnforcesConservation(t *testing.T) {
	content := readMigration(t, "create_carbon_credits")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS carbon_credits",
		"CHECK (credits_sold + credits_retired + credits_available = credits_issued)",
		"CHECK (credits_available >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_carbon_credits_project_year ON carbon_credits (project_id, report_year)",
		"CHECK (status = 'ALLOCATED' OR claimed_at IS NOT NULL)",
		"CHECK (total_amount = unit_price * quantity)",
		"DROP TABLE IF EXISTS carbon_credits",
	})
}

func TestReserveMigrationBoundsRemaining(t *testing.T) {
	content := readMigration(t, "create_carbon_reserves")
	assertContains(t, content, []string{
		"CHECK (remaining_amount >= 0 AND remaining_amount <= amount)",
		"CHECK (amount >= 0 AND amount <= requested_amount)",
		"FOREIGN KEY (reserve_id) REFERENCES carbon_reserves(id) ON DELETE CASCADE",
	})
}

func TestTreeAndPhaseMigrationsGuardCounts(t *testing.T) {
	trees := readMigration(t, "create_farms_and_trees")
	assertContains(t, trees, []string{
		"CHECK (available_count >= 0 AND available_count <= alive_count)",
		"FOREIGN KEY (species_id) REFERENCES tree_species(id) ON DELETE RESTRICT",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_tree_species_name",
	})
	phases := readMigration(t, "create_project_phases")
	assertContains(t, phases, []string{
		"CHECK (actual_co2 = direct_co2 + reserve_co2)",
	})
}

func TestContractMigrationCascadesOwnerships(t *testing.T) {
	content := readMigration(t, "create_contracts_and_ownerships")
	assertContains(t, content, []string{
		"CHECK (max_renewals IS NULL OR renewal_count <= max_renewals)",
		"FOREIGN KEY (contract_id) REFERENCES contracts(id) ON DELETE CASCADE",
		"CHECK (percentage > 0 AND percentage <= 100)",
		"idx_contract_renewals_one_pending",
	})
}
