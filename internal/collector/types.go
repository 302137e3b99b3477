package collector

// BlockDevice is a host block device that may carry array members
type BlockDevice struct {
	// Name is the kernel name, e.g. sda
	Name string `json:"name"`
	// Path is the device node the host driver opens, e.g. /dev/sda
	Path      string  `json:"path"`
	SizeBytes int64   `json:"size_bytes"`
	Type      string  `json:"type"`
	Removable bool    `json:"removable"`
	ReadOnly  bool    `json:"read_only"`
	Model     *string `json:"model,omitempty"`
	Serial    *string `json:"serial,omitempty"`
	Tran      *string `json:"tran,omitempty"`
	// Source is "lsblk" or "sysfs"
	Source string `json:"source"`
}
