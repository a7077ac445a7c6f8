// Laika Sync - Third-Party Integration Sync Engine
// Copyright 2026 Heylaika Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/heylaika/laika-sync

package objects

// Stable global catalogue of canonical type specs. Mapper outputs MUST use
// these display names verbatim; the reconciliation key of each mapper names a
// subset of them.

// UserSpec describes a person with access to a connected system.
var UserSpec = TypeSpec{
	Name: "user",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "First Name", Kind: KindText},
		{Name: "Last Name", Kind: KindText},
		{Name: "Email", Kind: KindText},
		{Name: "Is Admin", Kind: KindBoolean},
		{Name: "Title", Kind: KindText},
		{Name: "Roles", Kind: KindText},
		{Name: "Organization Name", Kind: KindText},
		{Name: "Groups", Kind: KindText},
		{Name: "Mfa Enabled", Kind: KindBoolean},
		{Name: "Mfa Enforced", Kind: KindBoolean},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// DeviceSpec describes a managed endpoint device.
var DeviceSpec = TypeSpec{
	Name: "device",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "Name", Kind: KindText},
		{Name: "Device Type", Kind: KindSingleSelect},
		{Name: "Company Issued", Kind: KindBoolean},
		{Name: "Serial Number", Kind: KindText},
		{Name: "Model", Kind: KindText},
		{Name: "Brand", Kind: KindText},
		{Name: "Operating System", Kind: KindText},
		{Name: "OS Version", Kind: KindText},
		{Name: "Location", Kind: KindText},
		{Name: "Owner", Kind: KindUser},
		{Name: "Issuance Status", Kind: KindSingleSelect},
		{Name: "Anti Virus Status", Kind: KindSingleSelect},
		{Name: "Encryption Status", Kind: KindSingleSelect},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// MonitorSpec describes an alerting monitor in an observability provider.
var MonitorSpec = TypeSpec{
	Name: "monitor",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "Name", Kind: KindText},
		{Name: "Type", Kind: KindText},
		{Name: "Query", Kind: KindText},
		{Name: "Tags", Kind: KindText},
		{Name: "Message", Kind: KindText},
		{Name: "Overall State", Kind: KindSingleSelect},
		{Name: "Created At", Kind: KindDate},
		{Name: "Created By", Kind: KindUser},
		{Name: "Notification Type", Kind: KindText},
		{Name: "Destination", Kind: KindText},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// AccountSpec describes a member account in a connected SaaS vendor.
var AccountSpec = TypeSpec{
	Name: "account",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "Name", Kind: KindText},
		{Name: "Email", Kind: KindText},
		{Name: "Owner", Kind: KindUser},
		{Name: "Is Active", Kind: KindBoolean},
		{Name: "Created On", Kind: KindDate},
		{Name: "Notes", Kind: KindText},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// BackgroundCheckSpec describes a background-check candidate and its report
// progression.
var BackgroundCheckSpec = TypeSpec{
	Name: "background_check",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "First Name", Kind: KindText},
		{Name: "Last Name", Kind: KindText},
		{Name: "Email", Kind: KindText},
		{Name: "Check Name", Kind: KindText},
		{Name: "Status", Kind: KindSingleSelect},
		{Name: "People Status", Kind: KindSingleSelect},
		{Name: "Initiation Date", Kind: KindDate},
		{Name: "Estimated Completion Date", Kind: KindDate},
		{Name: "Package", Kind: KindText},
		{Name: "Link to People Table", Kind: KindUser},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// ChangeRequestSpec describes a tracked change (story, ticket) in a
// project-management provider.
var ChangeRequestSpec = TypeSpec{
	Name: "change_request",
	Attributes: []Attribute{
		{Name: "Key", Kind: KindText},
		{Name: "Title", Kind: KindText},
		{Name: "Description", Kind: KindText},
		{Name: "Epic", Kind: KindText},
		{Name: "Project", Kind: KindText},
		{Name: "Assignee", Kind: KindUser},
		{Name: "Reporter", Kind: KindUser},
		{Name: "Status", Kind: KindSingleSelect},
		{Name: "Approver", Kind: KindUser},
		{Name: "Started", Kind: KindDate},
		{Name: "Ended", Kind: KindDate},
		{Name: "Url", Kind: KindText},
		{Name: "Transitions History", Kind: KindJSON},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// ServiceAccountSpec describes a non-human machine identity.
var ServiceAccountSpec = TypeSpec{
	Name: "service_account",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "Display Name", Kind: KindText},
		{Name: "Description", Kind: KindText},
		{Name: "Owner Id", Kind: KindText},
		{Name: "Email", Kind: KindText},
		{Name: "Is Active", Kind: KindBoolean},
		{Name: "Created Date", Kind: KindDate},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// RepositorySpec describes a source-code repository.
var RepositorySpec = TypeSpec{
	Name: "repository",
	Attributes: []Attribute{
		{Name: "Name", Kind: KindText},
		{Name: "Organization", Kind: KindText},
		{Name: "Public URL", Kind: KindText},
		{Name: "Is Active", Kind: KindBoolean},
		{Name: "Visibility", Kind: KindSingleSelect},
		{Name: "Created On", Kind: KindDate},
		{Name: "Updated On", Kind: KindDate},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// PullRequestSpec describes a pull request and its review state.
var PullRequestSpec = TypeSpec{
	Name: "pull_request",
	Attributes: []Attribute{
		{Name: "Key", Kind: KindText},
		{Name: "Repository", Kind: KindText},
		{Name: "Target", Kind: KindText},
		{Name: "Source", Kind: KindText},
		{Name: "State", Kind: KindSingleSelect},
		{Name: "Title", Kind: KindText},
		{Name: "Is Verified", Kind: KindBoolean},
		{Name: "Is Approved", Kind: KindBoolean},
		{Name: "Url", Kind: KindText},
		{Name: "Approvers", Kind: KindText},
		{Name: "Reporter", Kind: KindUser},
		{Name: "Created On", Kind: KindDate},
		{Name: "Updated On", Kind: KindDate},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// EventSpec describes an audit-relevant event observed in a provider, such as
// an SSO sign-in through a third-party application.
var EventSpec = TypeSpec{
	Name: "event",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "Name", Kind: KindText},
		{Name: "Type", Kind: KindSingleSelect},
		{Name: "User", Kind: KindUser},
		{Name: "Device", Kind: KindText},
		{Name: "Date", Kind: KindDate},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// ChargeSpec describes a payment or payroll charge.
var ChargeSpec = TypeSpec{
	Name: "charge",
	Attributes: []Attribute{
		{Name: "Id", Kind: KindText},
		{Name: "Description", Kind: KindText},
		{Name: "Amount", Kind: KindNumber},
		{Name: "Currency", Kind: KindText},
		{Name: "Status", Kind: KindSingleSelect},
		{Name: "Date", Kind: KindDate},
		{Name: "Source System", Kind: KindText},
		{Name: "Connection Name", Kind: KindText},
	},
}

// Catalogue lists every canonical spec by type name.
var Catalogue = map[string]TypeSpec{
	UserSpec.Name:            UserSpec,
	DeviceSpec.Name:          DeviceSpec,
	MonitorSpec.Name:         MonitorSpec,
	AccountSpec.Name:         AccountSpec,
	BackgroundCheckSpec.Name: BackgroundCheckSpec,
	ChangeRequestSpec.Name:   ChangeRequestSpec,
	ServiceAccountSpec.Name:  ServiceAccountSpec,
	RepositorySpec.Name:      RepositorySpec,
	PullRequestSpec.Name:     PullRequestSpec,
	EventSpec.Name:           EventSpec,
	ChargeSpec.Name:          ChargeSpec,
}
