// Package fs provides the file system abstraction used by the column files.
//
//   - [LocalFS]: production implementation on the os package
//   - [FaultyFS]: test wrapper that injects write, truncate, sync and close errors
//
// Production code uses fs.Default:
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests wrap it to simulate a full or broken disk:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".d", fs.Fault{FailAfterBytes: 0})
//
// There are no context.Context parameters: local file operations are not
// interruptible at the syscall level.
package fs
