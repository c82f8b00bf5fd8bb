package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names follow the hosted schema.

type ContractModel struct {
	ID                 string `gorm:"primaryKey"`
	UserID             string `gorm:"not null;index"`
	FileName           string `gorm:"not null"`
	FilePath           string `gorm:"not null"`
	FileSize           int64
	Language           string
	ContractType       string
	Parties            datatypes.JSON `gorm:"type:jsonb"`
	EffectiveDate      string
	ExpiryDate         string
	Jurisdiction       string
	CompositeRiskScore int
	RiskLevel          string
	ExecutiveSummary   string `gorm:"type:text"`
	AnalysisStatus     string `gorm:"not null;index"`
	ErrorMessage       string
	AnalyzedAt         *time.Time
	CreatedAt          time.Time `gorm:"not null;index"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (ContractModel) TableName() string { return "contracts" }

type ClauseModel struct {
	ID                   string `gorm:"primaryKey"`
	ContractID           string `gorm:"not null;index:idx_clauses_contract_number,unique"`
	ClauseNumber         int    `gorm:"not null;index:idx_clauses_contract_number,unique"`
	OriginalText         string `gorm:"type:text;not null"`
	PlainExplanation     string `gorm:"type:text"`
	RiskRationale        string `gorm:"type:text"`
	RiskScore            int
	RiskLevel            string         `gorm:"not null"`
	Category             string         `gorm:"not null"`
	SuggestedAlternative string         `gorm:"type:text"`
	NegotiationScript    string         `gorm:"type:text"`
	ComplianceFlags      datatypes.JSON `gorm:"type:jsonb"`
	SimilarityScore      float64
	IsFlagged            bool
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (ClauseModel) TableName() string { return "clauses" }

type ContractTemplateModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Description  string
	ContractType string
	Content      string         `gorm:"type:text;not null"`
	Variables    datatypes.JSON `gorm:"type:jsonb"`
	RiskPosture  string
	IsPublic     bool `gorm:"index"`
	CreatedBy    string
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (ContractTemplateModel) TableName() string { return "contract_templates" }

type UserTemplateModel struct {
	ID              string `gorm:"primaryKey"`
	UserID          string `gorm:"not null;index"`
	TemplateID      string
	Name            string         `gorm:"not null"`
	Content         string         `gorm:"type:text;not null"`
	VariablesFilled datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt       time.Time      `gorm:"not null"`
}

func (UserTemplateModel) TableName() string { return "user_templates" }

type GlossaryTermModel struct {
	ID           string `gorm:"primaryKey"`
	Term         string `gorm:"not null;index"`
	DefinitionEN string `gorm:"column:definition_en;type:text;not null"`
	DefinitionHI string `gorm:"column:definition_hi;type:text"`
	ExampleUsage string `gorm:"type:text"`
	Category     string
	CreatedAt    time.Time `gorm:"not null"`
}

func (GlossaryTermModel) TableName() string { return "glossary_terms" }

type AuditEntryModel struct {
	ID            string         `gorm:"primaryKey"`
	UserID        string         `gorm:"not null;index"`
	ContractID    string         `gorm:"index"`
	Action        string         `gorm:"not null"`
	ActionDetails datatypes.JSON `gorm:"type:jsonb"`
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time `gorm:"not null;index"`
}

func (AuditEntryModel) TableName() string { return "audit_trail" }
