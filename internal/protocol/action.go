package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type ActionType string

const (
	ActMoveUnits       ActionType = "moveUnits"
	ActAttackMove      ActionType = "attackMove"
	ActAttackUnit      ActionType = "attackUnit"
	ActSetRallyPoint   ActionType = "setRallyPoint"
	ActBuildBuilding   ActionType = "buildBuilding"
	ActBuildingCreated ActionType = "buildingCreated"
	ActUpgrade         ActionType = "upgrade"
	ActUnitSpawned     ActionType = "unitSpawned"
	ActChatMessage     ActionType = "chatMessage"
)

var AllActionTypes = []ActionType{
	ActMoveUnits, ActAttackMove, ActAttackUnit, ActSetRallyPoint, ActBuildBuilding,
	ActBuildingCreated, ActUpgrade, ActUnitSpawned, ActChatMessage,
}

func (t ActionType) Known() bool {
	switch t {
	case ActMoveUnits, ActAttackMove, ActAttackUnit, ActSetRallyPoint, ActBuildBuilding,
		ActBuildingCreated, ActUpgrade, ActUnitSpawned, ActChatMessage:
		return true
	}
	return false
}

var ErrInvalidAction = errors.New("invalid action format")

// Action is the union of every playerAction shape. Building and Unit stay raw
// so the processor can decide how to treat a malformed object.
type Action struct {
	Type ActionType `json:"type"`

	UnitIDs   []string `json:"unitIds,omitempty"`
	BunkerIDs []string `json:"bunkerIds,omitempty"`
	X         float64  `json:"x,omitempty"`
	Y         float64  `json:"y,omitempty"`
	TargetID  string   `json:"targetId,omitempty"`

	BuildingType string          `json:"buildingType,omitempty"`
	Building     json.RawMessage `json:"building,omitempty"`
	Unit         json.RawMessage `json:"unit,omitempty"`
	UpgradeType  string          `json:"upgradeType,omitempty"`

	Message    string `json:"message,omitempty"`
	IsTeamChat bool   `json:"isTeamChat,omitempty"`
}

//go:embed schemas/action.schema.json
var actionSchemaJSON []byte

var actionSchema = mustCompileSchema("action.schema.json", actionSchemaJSON)

func mustCompileSchema(name string, b []byte) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return c.MustCompile(name)
}

// ParseAction validates raw against the action schema and decodes it.
// Any shape problem is reported as ErrInvalidAction.
func ParseAction(raw []byte) (Action, error) {
	var a Action
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if err := actionSchema.Validate(doc); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return a, nil
}

// WithPlayerID returns the action payload with "playerId" set, preserving every
// other field the client sent.
func WithPlayerID(raw []byte, playerID int) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	m["playerId"] = playerID
	return json.Marshal(m)
}
