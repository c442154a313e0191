package dispatch

import (
	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

// ListPlatforms returns the installed platforms in enumeration order.
// It fails with NoPlatformsFound when the runtime reports none.
func ListPlatforms(rt opencl.Runtime) ([]opencl.PlatformID, error) {
	n, st := rt.GetPlatformIDs(nil)
	if st == opencl.PlatformNotFoundKHR || (st.OK() && n == 0) {
		return nil, newError(NoPlatformsFound, "clGetPlatformIDs", st, "")
	}
	if err := Check("clGetPlatformIDs", st); err != nil {
		return nil, inStage(err, StageDiscovery)
	}

	platforms := make([]opencl.PlatformID, n)
	n, st = rt.GetPlatformIDs(platforms)
	if err := Check("clGetPlatformIDs", st); err != nil {
		return nil, inStage(err, StageDiscovery)
	}
	// The installed set can shrink between the count and the fill.
	if n == 0 {
		return nil, newError(NoPlatformsFound, "clGetPlatformIDs", st, "platforms disappeared during enumeration")
	}
	return platforms[:min(int(n), len(platforms))], nil
}

// ListDevices returns the devices of platform matching filter.
// It fails with NoDevicesFound when nothing matches.
func ListDevices(rt opencl.Runtime, platform opencl.PlatformID, filter opencl.DeviceType) ([]opencl.DeviceID, error) {
	n, st := rt.GetDeviceIDs(platform, filter, nil)
	if st == opencl.DeviceNotFound || (st.OK() && n == 0) {
		return nil, newError(NoDevicesFound, "clGetDeviceIDs", st,
			"no "+filter.String()+" devices on the selected platform")
	}
	if err := Check("clGetDeviceIDs", st); err != nil {
		return nil, inStage(err, StageDiscovery)
	}

	devices := make([]opencl.DeviceID, n)
	n, st = rt.GetDeviceIDs(platform, filter, devices)
	if err := Check("clGetDeviceIDs", st); err != nil {
		return nil, inStage(err, StageDiscovery)
	}
	if n == 0 {
		return nil, newError(NoDevicesFound, "clGetDeviceIDs", st,
			"devices disappeared during enumeration")
	}
	return devices[:min(int(n), len(devices))], nil
}

// PlatformName returns the human-readable platform name.
func PlatformName(rt opencl.Runtime, platform opencl.PlatformID) (string, error) {
	name, st := rt.GetPlatformInfo(platform, opencl.PlatformName)
	if err := Check("clGetPlatformInfo", st); err != nil {
		return "", inStage(err, StageDiscovery)
	}
	return name, nil
}

// DeviceDetails summarizes one device for diagnostics.
type DeviceDetails struct {
	ID               opencl.DeviceID
	Name             string
	Vendor           string
	Version          string
	Type             opencl.DeviceType
	GlobalMemBytes   uint64
	MaxWorkGroupSize uint64
	MaxComputeUnits  uint64
}

// MemoryMB returns the device memory in megabytes.
func (d DeviceDetails) MemoryMB() int {
	return int(d.GlobalMemBytes / (1024 * 1024))
}

// DescribeDevice queries the properties shown by the devices command.
func DescribeDevice(rt opencl.Runtime, device opencl.DeviceID) (DeviceDetails, error) {
	details := DeviceDetails{ID: device}

	strs := []struct {
		param opencl.DeviceInfo
		dst   *string
	}{
		{opencl.DeviceInfoName, &details.Name},
		{opencl.DeviceInfoVendor, &details.Vendor},
		{opencl.DeviceInfoVersion, &details.Version},
	}
	for _, s := range strs {
		v, st := rt.GetDeviceInfoString(device, s.param)
		if err := Check("clGetDeviceInfo", st); err != nil {
			return details, inStage(err, StageDiscovery)
		}
		*s.dst = v
	}

	var devType uint64
	uints := []struct {
		param opencl.DeviceInfo
		dst   *uint64
	}{
		{opencl.DeviceInfoType, &devType},
		{opencl.DeviceInfoGlobalMemSize, &details.GlobalMemBytes},
		{opencl.DeviceInfoMaxWorkGroupSize, &details.MaxWorkGroupSize},
		{opencl.DeviceInfoMaxComputeUnits, &details.MaxComputeUnits},
	}
	for _, u := range uints {
		v, st := rt.GetDeviceInfoUint(device, u.param)
		if err := Check("clGetDeviceInfo", st); err != nil {
			return details, inStage(err, StageDiscovery)
		}
		*u.dst = v
	}
	details.Type = opencl.DeviceType(devType)
	return details, nil
}
