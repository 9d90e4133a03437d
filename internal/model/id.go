package model

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeWorkOrder IDType = "wo"
	IDTypePod       IDType = "pod"
	IDTypeMessage   IDType = "msg"
	IDTypePhase     IDType = "phase"
	IDTypeTask      IDType = "task"
	IDTypeReceipt   IDType = "rcpt"
	IDTypeArtifact  IDType = "art"
)

var validIDTypes = map[IDType]bool{
	IDTypeWorkOrder: true,
	IDTypePod:       true,
	IDTypeMessage:   true,
	IDTypePhase:     true,
	IDTypeTask:      true,
	IDTypeReceipt:   true,
	IDTypeArtifact:  true,
}

var idRegex = regexp.MustCompile(`^(wo|pod|msg|phase|task|rcpt|art)_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func NewID(idType IDType) string {
	if !validIDTypes[idType] {
		panic(fmt.Sprintf("invalid ID type: %s", idType))
	}
	return fmt.Sprintf("%s_%s", idType, uuid.NewString())
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	prefix, _, _ := strings.Cut(id, "_")
	return IDType(prefix), nil
}
