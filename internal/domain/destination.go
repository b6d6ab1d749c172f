package domain

import "time"

// DestinationDriver represents the kind of system rows are written to.
type DestinationDriver string

const (
	DestinationDriverSQLite   DestinationDriver = "sqlite"
	DestinationDriverMySQL    DestinationDriver = "mysql"
	DestinationDriverPostgres DestinationDriver = "postgres"
	DestinationDriverMongoDB  DestinationDriver = "mongodb"
	DestinationDriverDynamoDB DestinationDriver = "dynamodb"
	DestinationDriverMemory   DestinationDriver = "memory"
)

// Drivers lists every supported destination driver.
var Drivers = []DestinationDriver{
	DestinationDriverSQLite,
	DestinationDriverMySQL,
	DestinationDriverPostgres,
	DestinationDriverMongoDB,
	DestinationDriverDynamoDB,
	DestinationDriverMemory,
}

// Valid reports whether d is a known driver.
func (d DestinationDriver) Valid() bool {
	for _, k := range Drivers {
		if k == d {
			return true
		}
	}
	return false
}

// DestinationConnection holds the metadata for connecting to a destination.
// The password (or AWS secret key) is stored separately in the SecretStore.
type DestinationConnection struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Driver   DestinationDriver `json:"driver"`
	Host     string            `json:"host"`     // hostname, file path (sqlite), URI (mongodb) or endpoint override (dynamodb)
	Port     int               `json:"port"`     // 0 for defaults
	Database string            `json:"database"` // db name, or table name for dynamodb
	Username string            `json:"username"` // AWS access key id for dynamodb
	SSLMode  string            `json:"sslMode"`
	Region   string            `json:"region"` // dynamodb only
	// ExtraJSON carries driver-specific options.
	ExtraJSON string    `json:"extraJson"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DestinationStore manages CRUD operations for destination connections.
type DestinationStore interface {
	CreateDestination(c *DestinationConnection) error
	GetDestination(id string) (*DestinationConnection, error)
	ListDestinations() ([]DestinationConnection, error)
	UpdateDestination(c *DestinationConnection) error
	DeleteDestination(id string) error
}
