package config

import (
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
)

// SeedMachineData builds the first-boot MachineData document for the
// default machine from the YAML seed blocks. It is only applied when no
// document yet exists (store.Load returns an empty one for a new machine id).
func (c *Config) SeedMachineData(machineID string) (*model.MachineData, error) {
	data := &model.MachineData{
		MachineID:    machineID,
		Providers:    make(map[string]*model.ProviderConnection),
		ModelAliases: make(map[string]string),
		Settings:     c.ToMachineSettings(),
	}

	for i, seed := range c.SeedAPIKeys {
		key := seed.Key
		hashed := seed.Hashed
		if hashed {
			digest, err := HashKey(seed.Key)
			if err != nil {
				return nil, err
			}
			key = digest
		}
		data.APIKeys = append(data.APIKeys, model.APIKey{
			ID:        idFor("key", i),
			Key:       key,
			Name:      seed.Name,
			IsActive:  true,
			CreatedAt: time.Time{},
			Hashed:    hashed,
		})
	}

	for i, seed := range c.SeedProviders {
		id := seed.ID
		if id == "" {
			id = idFor("conn", i)
		}
		extra := seed.Extra
		if extra == nil {
			extra = make(map[string]any)
		}
		if seed.BaseURL != "" {
			extra["baseUrl"] = seed.BaseURL
		}
		data.Providers[id] = &model.ProviderConnection{
			ID:                   id,
			Provider:             seed.Provider,
			IsActive:             true,
			Priority:             seed.Priority,
			APIKey:               seed.APIKey,
			ProviderSpecificData: extra,
			Health:               model.Health{Status: model.StatusActive},
		}
	}

	return data, nil
}

func idFor(prefix string, i int) string {
	const digits = "0123456789"
	if i == 0 {
		return prefix + "-0"
	}
	n := i
	buf := make([]byte, 0, 4)
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return prefix + "-" + string(buf)
}
