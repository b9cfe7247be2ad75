package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// CustomHooks replace viper's default decode hooks, so the defaults are composed back in here.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		WalltimeHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)),
}

// WalltimeHookFunc decodes scheduler style walltimes ("1:00:00", "2-12:00:00") into a time.Duration.
// Strings without a colon are left for the standard duration hook.
func WalltimeHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		s := data.(string)
		if !strings.Contains(s, ":") {
			return data, nil
		}
		return ParseWalltime(s)
	}
}

// ParseWalltime parses [D-]H:MM[:SS] into a duration.
func ParseWalltime(s string) (time.Duration, error) {
	var days int
	rest := s
	if i := strings.Index(s, "-"); i != -1 {
		d, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, errors.Wrapf(err, "invalid walltime %q", s)
		}
		days = d
		rest = s[i+1:]
	}
	parts := strings.Split(rest, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, errors.Errorf("invalid walltime %q", s)
	}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	total := time.Duration(days) * 24 * time.Hour
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return 0, errors.Errorf("invalid walltime %q", s)
		}
		total += time.Duration(v) * units[i]
	}
	return total, nil
}

// FormatWalltime renders a duration as H:MM:SS, the format understood by both qsub and sbatch.
func FormatWalltime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return strconv.Itoa(int(h)) + ":" + pad(int(m)) + ":" + pad(int(d/time.Second))
}

func pad(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}
