package config

import "time"

// Network profile names.
const (
	NetworkLocalnet = "localnet"
	NetworkTestnet  = "testnet"
)

// NetworkProfile supplies per-network defaults for the raffle parameters.
type NetworkProfile struct {
	Magic                uint32
	EntranceFee          int64
	Interval             time.Duration
	KeyHash              string
	RequestConfirmations uint16
	CallbackGasLimit     uint32
}

// Networks lists the known profiles.
var Networks = map[string]NetworkProfile{
	NetworkLocalnet: {
		Magic:                56753,
		EntranceFee:          1_000_000, // 0.01 GAS
		Interval:             30 * time.Second,
		KeyHash:              "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc",
		RequestConfirmations: 1,
		CallbackGasLimit:     500_000,
	},
	NetworkTestnet: {
		Magic:                894710606,
		EntranceFee:          1_000_000,
		Interval:             30 * time.Second,
		KeyHash:              "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc",
		RequestConfirmations: 6,
		CallbackGasLimit:     500_000,
	},
}

// Apply fills the zero fields of rc from the profile.
func (p NetworkProfile) Apply(rc RaffleConfig) RaffleConfig {
	if rc.EntranceFee == 0 {
		rc.EntranceFee = p.EntranceFee
	}
	if rc.Interval == 0 {
		rc.Interval = p.Interval
	}
	if rc.KeyHash == "" {
		rc.KeyHash = p.KeyHash
	}
	if rc.RequestConfirmations == 0 {
		rc.RequestConfirmations = p.RequestConfirmations
	}
	if rc.CallbackGasLimit == 0 {
		rc.CallbackGasLimit = p.CallbackGasLimit
	}
	return rc
}
