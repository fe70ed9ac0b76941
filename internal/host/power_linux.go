package host

import (
	"slices"

	"github.com/prometheus/procfs/sysfs"
)

const microToUnit = 1e6

type powerSupplySource func() (sysfs.PowerSupplyClass, error)

// SysfsPower returns a PowerSource over /sys/class/power_supply. Supplies
// without power_now fall back to current_now times voltage_now.
func SysfsPower(fs sysfs.FS) PowerSource {
	return sysfsPower(fs.PowerSupplyClass)
}

func sysfsPower(source powerSupplySource) PowerSource {
	return func() ([]float64, error) {
		class, err := source()
		if err != nil {
			return nil, classify(ErrSensorRead, err)
		}

		names := make([]string, 0, len(class))
		for name := range class {
			names = append(names, name)
		}
		slices.Sort(names)

		var watts []float64
		for _, name := range names {
			ps := class[name]
			switch {
			case ps.PowerNow != nil:
				watts = append(watts, float64(*ps.PowerNow)/microToUnit)
			case ps.CurrentNow != nil && ps.VoltageNow != nil:
				watts = append(watts, float64(*ps.CurrentNow)/microToUnit*float64(*ps.VoltageNow)/microToUnit)
			}
		}
		if len(watts) == 0 {
			return nil, unsupported("power_now")
		}

		return watts, nil
	}
}
