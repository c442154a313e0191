package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"

	"github.com/orneryd/cldispatch/pkg/dispatch"
	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
)

func (a *app) devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List OpenCL platforms and devices, and host CPU features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listDevices()
		},
	}
}

func (a *app) listDevices() error {
	fmt.Fprintf(a.stdout, "Host: %s/%s, CPU features: %s\n\n", runtime.GOOS, runtime.GOARCH, hostFeatures())

	platforms, err := dispatch.ListPlatforms(a.rt)
	if err != nil {
		a.report(err)
		return &reportedError{err: err}
	}

	for i, p := range platforms {
		name, err := dispatch.PlatformName(a.rt, p)
		if err != nil {
			return err
		}
		marker := ""
		if i == 0 {
			marker = " (selected)"
		}
		fmt.Fprintf(a.stdout, "Platform %d: %s%s\n", i, name, marker)

		devices, err := dispatch.ListDevices(a.rt, p, opencl.DeviceTypeAll)
		if err != nil {
			fmt.Fprintf(a.stdout, "  %s\n", dispatch.Describe(err))
			continue
		}
		for j, d := range devices {
			info, err := dispatch.DescribeDevice(a.rt, d)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "  Device %d: %s\n", j, info.Name)
			fmt.Fprintf(a.stdout, "    Type:            %s\n", info.Type)
			fmt.Fprintf(a.stdout, "    Vendor:          %s\n", info.Vendor)
			fmt.Fprintf(a.stdout, "    Version:         %s\n", info.Version)
			fmt.Fprintf(a.stdout, "    Memory:          %s\n", humanize.IBytes(info.GlobalMemBytes))
			fmt.Fprintf(a.stdout, "    Compute units:   %d\n", info.MaxComputeUnits)
			fmt.Fprintf(a.stdout, "    Max work-group:  %d\n", info.MaxWorkGroupSize)
		}
	}
	return nil
}

// hostFeatures names the SIMD extensions of the host CPU, for comparing a
// CPU OpenCL device against the machine it runs on.
func hostFeatures() string {
	var features []string
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41 || cpu.X86.HasSSE42, "SSE4")
		add(cpu.X86.HasAVX, "AVX")
		add(cpu.X86.HasAVX2, "AVX2")
		add(cpu.X86.HasFMA, "FMA")
		add(cpu.X86.HasAVX512F, "AVX512F")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "ASIMD")
		add(cpu.ARM64.HasFPHP, "FP16")
		add(cpu.ARM64.HasSVE, "SVE")
	}
	if len(features) == 0 {
		return "none detected"
	}
	return strings.Join(features, " ")
}
