package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sigreer/raidview/internal/cache"
	"github.com/sigreer/raidview/internal/mlog"
)

const lsblkCacheKey = "collector:lsblk"

// lsblkCommand runs lsblk; tests replace it
var lsblkCommand = func() ([]byte, error) {
	return exec.Command("lsblk", "-d", "-b", "-o",
		"NAME,PATH,SIZE,TYPE,RM,RO,MODEL,SERIAL,TRAN",
		"-J").Output()
}

// lsblkValue accepts both the string and the typed JSON lsblk versions emit
type lsblkValue string

func (v *lsblkValue) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = lsblkValue(strings.TrimSpace(s))
		return nil
	}
	*v = lsblkValue(b)
	return nil
}

func (v lsblkValue) bool() bool {
	return v == "1" || v == "true"
}

func (v lsblkValue) ptr() *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}

// CollectLsblk lists whole block devices, cached for cache.TTLDevices
func CollectLsblk(c *cache.Cache, forceRefresh bool) (map[string]*BlockDevice, error) {
	if !forceRefresh {
		if entry := c.GetEntry(lsblkCacheKey); entry != nil && !entry.IsExpired() {
			mlog.GetFunctionLogger(mlog.GetPackageLogger("collector"), "CollectLsblk").
				WithField("age", entry.Age()).Debug("using cached device listing")
			return entry.Value.(map[string]*BlockDevice), nil
		}
	}

	out, err := lsblkCommand()
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	devices, err := parseLsblk(out)
	if err != nil {
		return nil, err
	}
	c.SetDevices(lsblkCacheKey, devices)
	return devices, nil
}

func parseLsblk(out []byte) (map[string]*BlockDevice, error) {
	var result struct {
		Blockdevices []struct {
			Name   string     `json:"name"`
			Path   lsblkValue `json:"path"`
			Size   lsblkValue `json:"size"`
			Type   lsblkValue `json:"type"`
			RM     lsblkValue `json:"rm"`
			RO     lsblkValue `json:"ro"`
			Model  lsblkValue `json:"model"`
			Serial lsblkValue `json:"serial"`
			Tran   lsblkValue `json:"tran"`
		} `json:"blockdevices"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("parsing lsblk output: %w", err)
	}

	devices := make(map[string]*BlockDevice)
	for _, bd := range result.Blockdevices {
		dev := &BlockDevice{
			Name:      bd.Name,
			Path:      string(bd.Path),
			Type:      string(bd.Type),
			Removable: bd.RM.bool(),
			ReadOnly:  bd.RO.bool(),
			Model:     bd.Model.ptr(),
			Serial:    bd.Serial.ptr(),
			Tran:      bd.Tran.ptr(),
			Source:    "lsblk",
		}
		if dev.Path == "" {
			dev.Path = "/dev/" + bd.Name
		}
		if size, err := strconv.ParseInt(string(bd.Size), 10, 64); err == nil {
			dev.SizeBytes = size
		}
		devices[bd.Name] = dev
	}
	return devices, nil
}
