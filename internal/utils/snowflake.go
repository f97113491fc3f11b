package utils

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator produces unique QR identifiers from a snowflake node
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a generator for the given datacenter and worker IDs
func NewIDGenerator(datacenterID, workerID int64) (*IDGenerator, error) {
	// DatacenterID uses 5 bits (0-31), WorkerID uses 5 bits (0-31)
	nodeID := (datacenterID << 5) | workerID

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &IDGenerator{node: node}, nil
}

// NewQRID returns a new base62 QR identifier
func (g *IDGenerator) NewQRID() string {
	return EncodeBase62(g.node.Generate().Int64())
}
