// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package pe

import "github.com/dblohm7/pestruct/schema"

// Symbol tables used by the PE schema. They are built once at package
// initialization and never modified.
var (
	OptionalHeaderMagic = schema.MustSymbols("OptionalHeaderMagic",
		"PE32", "0x010b",
		"PE32+", "0x020b",
	)

	Machine = schema.MustSymbols("ImageFileMachine",
		"Unknown", "0x0000",
		"Target Host", "0x0001",
		"i386", "0x014c",
		"MIPS R3000 Big Endian", "0x0160",
		"MIPS R3000", "0x0162",
		"MIPS R4000", "0x0166",
		"MIPS R10000", "0x0168",
		"wCE MIPS v2", "0x0169",
		"DEC Alpha", "0x0184",
		"SH-3", "0x01a2",
		"SH3-DSP", "0x01a3",
		"SH-3E", "0x01a4",
		"SH-4", "0x01a6",
		"SH-5", "0x01a8",
		"ARM", "0x01c0",
		"THUMB", "0x01c2",
		"ARMNT", "0x01c4",
		"AM33", "0x01d3",
		"PowerPC", "0x01f0",
		"PowerPC FP", "0x01f1",
		"IA64", "0x0200",
		"MIPS16", "0x0266",
		"DEC Alpha64", "0x0284",
		"MIPS FPU", "0x0366",
		"MIPS FPU16", "0x0466",
		"Tricore", "0x0520",
		"CEF", "0x00ce",
		"EBC", "0x0ebc",
		"AMD64", "0x8664",
		"M32R", "0x9041",
		"ARM64", "0xaa64",
		"CEE", "0x0c0e",
		"RISC-V 32", "0x5032",
		"RISC-V 64", "0x5064",
		"RISC-V 128", "0x5128",
	)

	FileCharacteristics = schema.MustSymbols("ImageFileCharacteristics",
		"Relocs Stripped", "0x0001",
		"Executable Image", "0x0002",
		"Line Numbers Stripped", "0x0004",
		"Local Symbols Stripped", "0x0008",
		"Aggressive Working Set Trim", "0x0010",
		"Large Address Aware", "0x0020",
		"Bytes Reversed Lo", "0x0080",
		"32-Bit Machine", "0x0100",
		"Debug-Stripped", "0x0200",
		"Run From Swap If Removable", "0x0400",
		"Run From Swap If Network", "0x0800",
		"System", "0x1000",
		"DLL", "0x2000",
		"Uniprocessor System Only", "0x4000",
		"Bytes Reversed Hi", "0x8000",
	)

	Subsystem = schema.MustSymbols("ImageSubsystem",
		"Unknown", 0,
		"Native", 1,
		"Windows GUI", 2,
		"Windows CUI", 3,
		"OS2 CUI", 5,
		"POSIX CUI", 7,
		"Native Windows", 8,
		"Windows CE GUI", 9,
		"EFI Application", 10,
		"EFI Boot Service Driver", 11,
		"EFI Runtime Driver", 12,
		"EFI ROM", 13,
		"XBox", 14,
		"Windows Boot Application", 16,
		"XBox Code Catalog", 17,
	)

	DllCharacteristics = schema.MustSymbols("ImageFileDllCharacteristics",
		"High-Entropy Virtual Address Space Aware", "0x0020",
		"Dynamic Base", "0x0040",
		"Force Integrity", "0x0080",
		"NX Compatible", "0x0100",
		"No Isolation", "0x0200",
		"No SEH", "0x0400",
		"No Bind", "0x0800",
		"AppContainer", "0x1000",
		"WDM Driver", "0x2000",
		"Control Flow Guard Supported", "0x4000",
		"Terminal Server Aware", "0x8000",
	)

	SectionCharacteristics = schema.MustSymbols("SectionCharacteristics",
		"No Pad", "0x00000008",
		"Contains Code", "0x00000020",
		"Contains Initialized Data", "0x00000040",
		"Contains Uninitialized Data", "0x00000080",
		"Link Other", "0x00000100",
		"Link Info", "0x00000200",
		"Link Remove", "0x00000800",
		"Link COM DAT", "0x00001000",
		"No Defer Speculative Execution", "0x00004000",
		"GP-Relative", "0x00008000",
		"Memory Far Data", "0x00008000",
		"Memory Purgeable", "0x00020000",
		"Memory 16-bit", "0x00020000",
		"Memory Locked", "0x00040000",
		"Memory Preload", "0x00080000",
		"Align 1 bytes", "0x00100000",
		"Align 2 bytes", "0x00200000",
		"Align 4 bytes", "0x00300000",
		"Align 8 bytes", "0x00400000",
		"Align 16 bytes", "0x00500000",
		"Align 32 bytes", "0x00600000",
		"Align 64 bytes", "0x00700000",
		"Align 128 bytes", "0x00800000",
		"Align 256 bytes", "0x00900000",
		"Align 512 bytes", "0x00A00000",
		"Align 1024 bytes", "0x00B00000",
		"Align 2048 bytes", "0x00C00000",
		"Align 4096 bytes", "0x00D00000",
		"Align 8192 bytes", "0x00E00000",
		"Align Mask", "0x00F00000",
		"Link Number Relocation Overflow", "0x01000000",
		"Memory Discardable", "0x02000000",
		"Memory Not Cached", "0x04000000",
		"Memory Not Paged", "0x08000000",
		"Memory Shared", "0x10000000",
		"Memory Execute", "0x20000000",
		"Memory Read", "0x40000000",
		"Memory Write", "0x80000000",
	)

	RelocationType = schema.MustSymbols("RelocationType",
		"Absolute", 0,
		"High", 1,
		"Low", 2,
		"High-Low", 3,
		"High Adjust", 4,
		"Machine-specific (5)", 5,
		"Reserved", 6,
		"Machine-specific (7)", 7,
		"Machine-specific (8)", 8,
		"Machine-specific (9)", 9,
		"Dir64", 10,
	)

	DebugType = schema.MustSymbols("Debug Type",
		"Unknown", 0,
		"COFF", 1,
		"CodeView 4.0+", 2,
		"Frame Pointer Omission data", 3,
		"Misc", 4,
		"Exception", 5,
		"Fixup", 6,
		"Borland", 9,
		"Repro", 16,
		"Extended DLL Characteristics", 20,
	)

	TLSCharacteristics = schema.MustSymbols("TLS Characteristics",
		"Scale Index", "0x00000001",
	)

	CertificateRevision = schema.MustSymbols("WIN_CERT_REVISION",
		"1.0", "0x0100",
		"2.0", "0x0200",
	)

	CertificateType = schema.MustSymbols("WIN_CERT_TYPE",
		"X.509", "0x0001",
		"PKCS Signed Data", "0x0002",
		"TS Stack Signed", "0x0004",
	)

	ResourceType = schema.MustSymbols("Resource Type",
		"Cursor", "0x0001",
		"Bitmap", "0x0002",
		"Icon", "0x0003",
		"Menu", "0x0004",
		"Dialog", "0x0005",
		"String Table", "0x0006",
		"Font Directory", "0x0007",
		"Font", "0x0008",
		"Accelerator", "0x0009",
		"RC Data", "0x000a",
		"Message Table", "0x000b",
		"Group Cursor", "0x000c",
		"Group Icon", "0x000e",
		"Version", "0x0010",
		"Dialog Include", "0x0011",
		"Plug and Play", "0x0013",
		"VxD", "0x0014",
		"Animated Cursor", "0x0015",
		"Animated Icon", "0x0016",
		"HTML", "0x0017",
		"Manifest", "0x0018",
	)

	VersionFileFlags = schema.MustSymbols("VS_FF",
		"Debug", "0x00000001",
		"Prerelease", "0x00000002",
		"Patched", "0x00000004",
		"Private Build", "0x00000008",
		"Info Inferred", "0x00000010",
		"Special Build", "0x00000020",
	)

	VersionFileType = schema.MustSymbols("VFT",
		"Unknown", "0x00000000",
		"Application", "0x00000001",
		"DLL", "0x00000002",
		"Driver", "0x00000003",
		"Font", "0x00000004",
		"VxD", "0x00000005",
		"Static Library", "0x00000007",
	)
)
