package domain

// MiBPerGB converts requested memory (MiB) into the GB unit hosts report in.
const MiBPerGB = 1024

// PlacementRequest asks for a host able to run a VM of the given size.
// The optional VM fields, when name, user and OS type are all present, turn the
// placement into a VM creation forwarded to the selected host.
type PlacementRequest struct {
	CPUCount      int32 `json:"cpu_count" validate:"gte=1"`
	MemorySizeMiB int64 `json:"memory_size_mib" validate:"gte=1"`
	DiskSizeGB    int64 `json:"disk_size_gb" validate:"gte=1"`

	Name         string `json:"name,omitempty" validate:"omitempty,max=255"`
	UserID       string `json:"user_id,omitempty"`
	OSType       string `json:"os_type,omitempty"`
	RootPassword string `json:"root_password,omitempty"`

	VMOfferID     string `json:"vm_offer_id" validate:"required"`
	SystemImageID string `json:"system_image_id" validate:"required"`
}

// MemoryGB returns the requested memory in GB, without rounding.
func (r *PlacementRequest) MemoryGB() float64 {
	return float64(r.MemorySizeMiB) / MiBPerGB
}

// WantsProvisioning reports whether enough VM parameters were supplied to create the VM.
func (r *PlacementRequest) WantsProvisioning() bool {
	return r.Name != "" && r.UserID != "" && r.OSType != ""
}

// VMCreateRequest is the payload sent to a host's VM service to create a VM.
type VMCreateRequest struct {
	ServiceClusterID int64  `json:"service_cluster_id"`
	Name             string `json:"name"`
	UserID           string `json:"user_id"`
	OSType           string `json:"os_type"`
	CPUCount         int32  `json:"cpu_count"`
	MemorySizeMiB    int64  `json:"memory_size_mib"`
	DiskSizeGB       int64  `json:"disk_size_gb"`
	VMOfferID        string `json:"vm_offer_id"`
	SystemImageID    string `json:"system_image_id"`
	RootPassword     string `json:"root_password,omitempty"`
}

// NewVMCreateRequest builds the creation payload for a placement on host.
func NewVMCreateRequest(host *Host, req *PlacementRequest) *VMCreateRequest {
	return &VMCreateRequest{
		ServiceClusterID: host.ID,
		Name:             req.Name,
		UserID:           req.UserID,
		OSType:           req.OSType,
		CPUCount:         req.CPUCount,
		MemorySizeMiB:    req.MemorySizeMiB,
		DiskSizeGB:       req.DiskSizeGB,
		VMOfferID:        req.VMOfferID,
		SystemImageID:    req.SystemImageID,
		RootPassword:     req.RootPassword,
	}
}
