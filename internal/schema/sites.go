package schema

// Built-in site tables. These encode the raw field conventions observed on
// each deployment: Farmsum stores generic channels under value_f/value_b
// with the channel name in the unit tag, water-content sensors expose named
// float fields on the WaterContentInformation series, and the energy_data
// unit is addressed by a type tag. Teesside uses the value_f/value_b
// convention throughout.

// Site prefixes with built-in mappings.
const (
	PrefixFarmsum  = "FRM"
	PrefixTeesside = "TSP"
)

func builtinMappings() []FieldMapping {
	return []FieldMapping{farmsumMapping(), teessideMapping()}
}

func farmsumMapping() FieldMapping {
	return FieldMapping{
		Prefix: PrefixFarmsum,
		Entries: []Entry{
			{Quantity: "s_code", Field: "value_f"},
			{Quantity: "s_raw", Field: "value_f"},
			{Quantity: "s_runtime_sec", Field: "value_f"},
			{Quantity: "si_pressure_low", Field: "value_f"},
			{Quantity: "si_pressure_difference", Field: "value_f"},
			{Quantity: "si_flow_input", Field: "value_f"},
			{Quantity: "running", Field: "value_b"},
			{Quantity: "fault", Field: "value_b"},
			{Quantity: "alarm", Field: "value_b"},
			{Quantity: "special_flags", Field: "value_b"},
			{Quantity: "emergency_stop_ok", Field: "value_b"},
			{Quantity: "protection_switch_ok", Field: "value_b"},
			{Quantity: "WaterContent_percent", TagValue: "WaterContentInformation", Field: "WaterContent_percent"},
			{Quantity: "Omega_percent", TagValue: "WaterContentInformation", Field: "Omega_percent"},
			{Quantity: "gas_energy", Unit: "energy_data", TagKey: "type", TagValue: "gas", Field: "value"},
			{Quantity: "electric_energy", Unit: "energy_data", TagKey: "type", TagValue: "electric", Field: "value"},
		},
	}
}

func teessideMapping() FieldMapping {
	return FieldMapping{
		Prefix: PrefixTeesside,
		Entries: []Entry{
			{Quantity: "hours_run", Field: "value_f"},
			{Quantity: "current_percent", Field: "value_f"},
			{Quantity: "running", Field: "value_b"},
			{Quantity: "fault", Field: "value_b"},
			{Quantity: "emergency_stop_ok", Field: "value_b"},
			{Quantity: "protection_switch_ok", Field: "value_b"},
			{Quantity: "Rotation_detection", Field: "value_b"},
		},
	}
}
