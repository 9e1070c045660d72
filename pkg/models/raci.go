package models

type RACIRole string

const (
	RACIAccountable RACIRole = "A"
	RACIResponsible RACIRole = "R"
	RACIConsulted   RACIRole = "C"
	RACIInformed    RACIRole = "I"
)

// RACIAssignment gives one agent a role on one project document.
type RACIAssignment struct {
	DocumentID string   `db:"document_id" json:"document_id" yaml:"document_id"`
	AgentID    string   `db:"agent_id"    json:"agent_id"    yaml:"agent_id"`
	Role       RACIRole `db:"raci_role"   json:"role"        yaml:"role"`
}
