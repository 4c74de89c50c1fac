package config

import "github.com/google/wire"

// ProviderSet is the wire provider set for the config package.
var ProviderSet = wire.NewSet(Load)
