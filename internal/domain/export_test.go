package domain

// SetSyscallCountForTest writes a counter directly so saturation can be tested
// without billions of increments.
func SetSyscallCountForTest(b *ControlBlock, id int, n uint32) { b.syscalls[id] = n }
