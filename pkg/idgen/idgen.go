package idgen

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/sonyflake"
)

// TempIdPrefix marks client generated ids that are pending server confirmation
const TempIdPrefix = "temp-"

// IDGenerator is the interface for generating unique IDs
type IDGenerator interface {
	// NextID generates a new unique ID
	NextID() (string, error)
}

// SonyflakeGenerator implements IDGenerator using sonyflake
type SonyflakeGenerator struct {
	sf *sonyflake.Sonyflake
}

// NewSonyflakeGenerator creates a new SonyflakeGenerator
func NewSonyflakeGenerator(machineID uint16) (*SonyflakeGenerator, error) {
	st := sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		MachineID: func() (uint16, error) {
			return machineID, nil
		},
	}

	sf, err := sonyflake.New(st)
	if err != nil {
		return nil, fmt.Errorf("failed to create sonyflake: %w", err)
	}

	return &SonyflakeGenerator{sf: sf}, nil
}

// NextID generates a new unique ID
func (g *SonyflakeGenerator) NextID() (string, error) {
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return strconv.FormatUint(id, 10), nil
}

// UUIDGenerator implements IDGenerator using random UUIDs
type UUIDGenerator struct{}

// NewUUIDGenerator creates a new UUIDGenerator
func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// NextID generates a new UUID
func (g *UUIDGenerator) NextID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

// NewTempId returns a client-side temporary message id
func NewTempId() string {
	return TempIdPrefix + uuid.NewString()
}

// IsTempId reports whether id was produced by NewTempId
func IsTempId(id string) bool {
	return len(id) > len(TempIdPrefix) && id[:len(TempIdPrefix)] == TempIdPrefix
}

var (
	defaultGenerator IDGenerator
	once             sync.Once
	initErr          error
)

// SetDefaultGenerator sets the default ID generator
func SetDefaultGenerator(gen IDGenerator) {
	defaultGenerator = gen
}

// GetDefaultGenerator returns the default ID generator.
// If not set, creates a SonyflakeGenerator with machineID 1
func GetDefaultGenerator() (IDGenerator, error) {
	once.Do(func() {
		if defaultGenerator == nil {
			defaultGenerator, initErr = NewSonyflakeGenerator(1)
		}
	})
	if initErr != nil {
		return nil, initErr
	}
	return defaultGenerator, nil
}

// NextID generates a new ID using the default generator
func NextID() (string, error) {
	gen, err := GetDefaultGenerator()
	if err != nil {
		return "", err
	}
	return gen.NextID()
}
