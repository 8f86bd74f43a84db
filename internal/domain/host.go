package domain

import (
	"encoding/json"
	"net"
	"strings"
	"time"
)

// Host is a physical hypervisor host ("service cluster") and its reported capacity.
// Capacity numbers are pushed by the host itself on every registration; nothing in
// this service decrements them after a placement.
type Host struct {
	ID         int64  `json:"id"`
	Name       string `json:"name" validate:"required,max=100"`
	MACAddress string `json:"mac_address" validate:"required,mac48"`
	IPAddress  string `json:"ip_address" validate:"required,ip"`

	TotalDiskGB       int64 `json:"total_disk_gb" validate:"gt=0"`
	AvailableDiskGB   int64 `json:"available_disk_gb" validate:"gte=0,ltefield=TotalDiskGB"`
	TotalMemoryGB     int64 `json:"total_memory_gb" validate:"gt=0"`
	AvailableMemoryGB int64 `json:"available_memory_gb" validate:"gte=0,ltefield=TotalMemoryGB"`

	CPUModel            string  `json:"cpu_model" validate:"required,max=100"`
	AvailableCPUPercent float64 `json:"available_cpu_percent" validate:"gte=0,lte=100"`
	CoreCount           int32   `json:"core_count" validate:"gte=1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAvailableCapacity reports whether disk, memory and CPU availability are all non-zero.
func (h *Host) HasAvailableCapacity() bool {
	return h.AvailableDiskGB > 0 && h.AvailableMemoryGB > 0 && h.AvailableCPUPercent > 0
}

// DiskRatio returns the available share of disk, or 0 when the total is unknown.
func (h *Host) DiskRatio() float64 {
	if h.TotalDiskGB <= 0 {
		return 0
	}
	return float64(h.AvailableDiskGB) / float64(h.TotalDiskGB)
}

// MemoryRatio returns the available share of memory, or 0 when the total is unknown.
func (h *Host) MemoryRatio() float64 {
	if h.TotalMemoryGB <= 0 {
		return 0
	}
	return float64(h.AvailableMemoryGB) / float64(h.TotalMemoryGB)
}

// CPURatio returns the available CPU percentage as a 0..1 share.
func (h *Host) CPURatio() float64 {
	return h.AvailableCPUPercent / 100
}

// CopyMutableFrom overwrites every mutable field of h with the values of src.
// ID and CreatedAt are left untouched.
func (h *Host) CopyMutableFrom(src *Host) {
	h.Name = src.Name
	h.MACAddress = src.MACAddress
	h.IPAddress = src.IPAddress
	h.TotalDiskGB = src.TotalDiskGB
	h.AvailableDiskGB = src.AvailableDiskGB
	h.TotalMemoryGB = src.TotalMemoryGB
	h.AvailableMemoryGB = src.AvailableMemoryGB
	h.CPUModel = src.CPUModel
	h.AvailableCPUPercent = src.AvailableCPUPercent
	h.CoreCount = src.CoreCount
}

// Clone returns a deep copy of the host.
func (h *Host) Clone() *Host {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

// legacyHost carries the field names used by the first generation of host
// agents. They are still accepted on registration.
type legacyHost struct {
	Nom                *string  `json:"nom"`
	AdresseMAC         *string  `json:"adresse_mac"`
	IP                 *string  `json:"ip"`
	ROM                *int64   `json:"rom"`
	AvailableROM       *int64   `json:"available_rom"`
	RAM                *int64   `json:"ram"`
	AvailableRAM       *int64   `json:"available_ram"`
	Processeur         *string  `json:"processeur"`
	AvailableProcessor *float64 `json:"available_processor"`
	NumberOfCore       *int32   `json:"number_of_core"`
}

// UnmarshalJSON decodes a host in either the current or the legacy field
// naming. A current field that is set wins over its legacy counterpart.
func (h *Host) UnmarshalJSON(data []byte) error {
	type plain Host
	var wire struct {
		plain
		legacyHost
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*h = Host(wire.plain)
	l := wire.legacyHost
	pickString(&h.Name, l.Nom)
	pickString(&h.MACAddress, l.AdresseMAC)
	pickString(&h.IPAddress, l.IP)
	pickInt64(&h.TotalDiskGB, l.ROM)
	pickInt64(&h.AvailableDiskGB, l.AvailableROM)
	pickInt64(&h.TotalMemoryGB, l.RAM)
	pickInt64(&h.AvailableMemoryGB, l.AvailableRAM)
	pickString(&h.CPUModel, l.Processeur)
	if h.AvailableCPUPercent == 0 && l.AvailableProcessor != nil {
		h.AvailableCPUPercent = *l.AvailableProcessor
	}
	if h.CoreCount == 0 && l.NumberOfCore != nil {
		h.CoreCount = *l.NumberOfCore
	}
	return nil
}

func pickString(dst *string, legacy *string) {
	if *dst == "" && legacy != nil {
		*dst = *legacy
	}
}

func pickInt64(dst *int64, legacy *int64) {
	if *dst == 0 && legacy != nil {
		*dst = *legacy
	}
}

// CanonicalMAC parses a 48-bit MAC address in any notation net.ParseMAC
// accepts and returns it as upper-case colon-separated hex.
func CanonicalMAC(s string) (string, bool) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil || len(hw) != 6 {
		return "", false
	}
	return strings.ToUpper(hw.String()), true
}

// Normalize rewrites the MAC and IP addresses into their canonical form.
// Values that do not parse are left as is for validation to report.
func (h *Host) Normalize() {
	if mac, ok := CanonicalMAC(h.MACAddress); ok {
		h.MACAddress = mac
	}
	if ip := net.ParseIP(strings.TrimSpace(h.IPAddress)); ip != nil {
		h.IPAddress = ip.String()
	}
}
