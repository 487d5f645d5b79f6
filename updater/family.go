package updater

import (
	"fmt"

	"github.com/moffa90/go-synmst/protocol"
)

// Target is the memory region the image is written to and read from.
type Target int

const (
	// TargetDefault uses the chip family's region
	TargetDefault Target = iota
	TargetEeprom
	TargetMemory
	TargetTxDpcd
	TargetTxDpcdTx1
	TargetTxDpcdTx2
	TargetTxDpcdTx3
)

type targetCommands struct {
	name  string
	write protocol.Command
	read  protocol.Command
}

var targets = map[Target]targetCommands{
	TargetEeprom:    {"eeprom", protocol.CommandWriteToEeprom, protocol.CommandReadFromEeprom},
	TargetMemory:    {"memory", protocol.CommandWriteToMemory, protocol.CommandReadFromMemory},
	TargetTxDpcd:    {"tx-dpcd", protocol.CommandWriteToTxDpcd, protocol.CommandReadFromTxDpcd},
	TargetTxDpcdTx1: {"tx-dpcd-tx1", protocol.CommandWriteToTxDpcdTx1, protocol.CommandReadFromTxDpcdTx1},
	TargetTxDpcdTx2: {"tx-dpcd-tx2", protocol.CommandWriteToTxDpcdTx2, protocol.CommandReadFromTxDpcdTx2},
	TargetTxDpcdTx3: {"tx-dpcd-tx3", protocol.CommandWriteToTxDpcdTx3, protocol.CommandReadFromTxDpcdTx3},
}

func (t Target) String() string {
	if t == TargetDefault {
		return "default"
	}
	if tc, ok := targets[t]; ok {
		return tc.name
	}
	return fmt.Sprintf("target(%d)", int(t))
}

// ParseTarget resolves a target from its name.
func ParseTarget(name string) (Target, error) {
	if name == "" || name == "default" {
		return TargetDefault, nil
	}
	for t, tc := range targets {
		if tc.name == name {
			return t, nil
		}
	}
	return TargetDefault, fmt.Errorf("unknown target %q", name)
}

type quirks struct {
	target Target
	verify protocol.VerifyMethod
}

var familyQuirks = map[protocol.ChipFamily]quirks{
	protocol.FamilyTesla:    {TargetEeprom, protocol.VerifyChecksum},
	protocol.FamilyLeaf:     {TargetMemory, protocol.VerifyChecksum},
	protocol.FamilyPanamera: {TargetMemory, protocol.VerifyCRC8},
	protocol.FamilyCayenne:  {TargetMemory, protocol.VerifyCRC16},
	protocol.FamilySpyder:   {TargetMemory, protocol.VerifyCRC16},
	protocol.FamilyCarrera:  {TargetMemory, protocol.VerifyCRC16},
}

// checkFamily rejects families the dialect cannot drive. Carrera is only
// reachable through a VMM9 signature, and VMM9 only speaks to Carrera.
func checkFamily(f protocol.ChipFamily, d protocol.Dialect) error {
	if _, ok := familyQuirks[f]; !ok {
		return fmt.Errorf("%w: chip family %s", protocol.ErrUnsupportedDevice, f)
	}
	if (f == protocol.FamilyCarrera) != (d == protocol.DialectVMM9) {
		return fmt.Errorf("%w: chip family %s over the %s dialect", protocol.ErrUnsupportedDevice, f, d)
	}
	return nil
}

// resolve applies the configured overrides to the family defaults.
func resolve(f protocol.ChipFamily, cfg *Config) (targetCommands, protocol.VerifyMethod, error) {
	q := familyQuirks[f]

	t := q.target
	if cfg.Target != TargetDefault {
		t = cfg.Target
	}
	tc, ok := targets[t]
	if !ok {
		return targetCommands{}, 0, fmt.Errorf("unknown target %s", t)
	}

	m := q.verify
	if cfg.VerifyMethod != nil {
		m = *cfg.VerifyMethod
	}
	return tc, m, nil
}
