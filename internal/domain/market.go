package domain

// Market is a tracked compute-futures market. Markets are static
// configuration: the id is permanently bound to one contract address.
// Corresponds to entries in the market registry file.
type Market struct {
	ID              string `yaml:"id" json:"id"`                           // opaque unique identifier, e.g. "gpu-h200"
	Name            string `yaml:"name" json:"name"`                       // display name
	ContractAddress string `yaml:"contractAddress" json:"contractAddress"` // AMM contract emitting swap events
	GenesisBlock    int64  `yaml:"genesisBlock" json:"genesisBlock"`       // block the contract was deployed at
	Active          bool   `yaml:"active" json:"active"`                   // deprecated markets are read-only
}
