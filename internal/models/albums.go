package models

import "encoding/json"

// SmartAlbumType selects which rule evaluator applies.
type SmartAlbumType string

const (
	AlbumObjectBased     SmartAlbumType = "object_based"
	AlbumPersonBased     SmartAlbumType = "person_based"
	AlbumTimeBased       SmartAlbumType = "time_based"
	AlbumCharacteristic  SmartAlbumType = "characteristic"
	AlbumTechnicalBased  SmartAlbumType = "technical_based"
	AlbumCustomRule      SmartAlbumType = "custom_rule"
)

// SmartAlbum is a rule-evaluated virtual album. Rules is an opaque JSON
// blob whose shape depends on Type; see internal/smartalbum for the typed
// views used at evaluation time.
type SmartAlbum struct {
	ID       int64           `db:"id"`
	Type     SmartAlbumType  `db:"type"`
	Name     string          `db:"name"`
	Rules    json.RawMessage `db:"rules"`
	Priority int             `db:"priority"`
	Active   bool            `db:"active"`
	IsSystem bool            `db:"is_system"`
}

// SmartAlbumMembership is the one-row-per-(album,image) materialized
// membership fact.
type SmartAlbumMembership struct {
	AlbumID    int64           `db:"album_id"`
	ImageID    int64           `db:"image_id"`
	Confidence float64         `db:"confidence"`
	Reasons    json.RawMessage `db:"reasons"`
}

// CustomRuleOperator combines successive rules in a custom_rule album.
type CustomRuleOperator string

const (
	RuleAND CustomRuleOperator = "AND"
	RuleOR  CustomRuleOperator = "OR"
	RuleNOT CustomRuleOperator = "NOT"
)

// CustomRule is one entry in a custom_rule album's ordered rule list.
type CustomRule struct {
	RuleType string             `json:"rule_type"`
	Operator CustomRuleOperator `json:"operator"`
	Params   json.RawMessage    `json:"params"`
}
