package model

import "testing"

func strPtr(s string) *string { return &s }

func TestTenant_Repair_PromotesToActiveWhenCredentialedAndInstalled(t *testing.T) {
	tenant := Tenant{Status: TenantInstalling, InstallPath: "/opt/acme", AgentCredential: strPtr("cred-1")}
	tenant.Repair()
	if tenant.Status != TenantActive {
		t.Errorf("expected a credentialed, installed tenant to become active, got %s", tenant.Status)
	}
}

func TestTenant_Repair_DemotesActiveToPendingWhenCredentialMissing(t *testing.T) {
	tenant := Tenant{Status: TenantActive, InstallPath: "/opt/acme", AgentCredential: nil}
	tenant.Repair()
	if tenant.Status != TenantPending {
		t.Errorf("expected an active tenant with no credential to demote to pending, got %s", tenant.Status)
	}
}

func TestTenant_Repair_DemotesActiveToPendingWhenInstallPathMissing(t *testing.T) {
	tenant := Tenant{Status: TenantActive, InstallPath: "", AgentCredential: strPtr("cred-1")}
	tenant.Repair()
	if tenant.Status != TenantPending {
		t.Errorf("expected an active tenant with no install path to demote to pending, got %s", tenant.Status)
	}
}

func TestTenant_Repair_DemotesActiveWhenCredentialIsEmptyString(t *testing.T) {
	tenant := Tenant{Status: TenantActive, InstallPath: "/opt/acme", AgentCredential: strPtr("")}
	tenant.Repair()
	if tenant.Status != TenantPending {
		t.Errorf("expected an empty-string credential to be treated as missing, got %s", tenant.Status)
	}
}

func TestTenant_Repair_LeavesErrorStatusAloneEvenWhenCredentialedAndInstalled(t *testing.T) {
	tenant := Tenant{Status: TenantError, InstallPath: "/opt/acme", AgentCredential: strPtr("cred-1")}
	tenant.Repair()
	if tenant.Status != TenantError {
		t.Errorf("expected an error tenant to remain in error even if later credentialed, got %s", tenant.Status)
	}
}

func TestTenant_Repair_LeavesPendingAloneWhenNotYetCredentialed(t *testing.T) {
	tenant := Tenant{Status: TenantPending}
	tenant.Repair()
	if tenant.Status != TenantPending {
		t.Errorf("expected a pending, uncredentialed tenant to stay pending, got %s", tenant.Status)
	}
}
