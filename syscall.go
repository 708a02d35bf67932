package threadsched

import (
	"fmt"
	"sync"
)

// SyscallNumber identifies a system call in the dispatch table.
type SyscallNumber int

const (
	SysHalt SyscallNumber = iota
	SysExit
	SysFork
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysDup2
)

// maxUserAddress is the top of the simulated user half of the address
// space; pointers at or above this are rejected by the three-check
// validation Dispatch performs before touching any argument.
const maxUserAddress = uintptr(1) << 47

// File is an in-memory stand-in for the out-of-scope filesystem. All file
// operations serialize on FileSystem.lock (a Lock, C5), matching the
// spec's "file operations serialize on a single filesystem mutex".
type File struct {
	Name     string
	Data     []byte
	readOnly bool
}

// FileSystem is the simulated filesystem backing the syscall boundary.
type FileSystem struct {
	lock  *Lock
	files map[string]*File
}

// NewFileSystem returns an empty filesystem guarded by a fresh Lock.
func NewFileSystem(sched *Scheduler) *FileSystem {
	return &FileSystem{
		lock:  NewLock(sched),
		files: make(map[string]*File),
	}
}

// fd is a per-process open file descriptor: a file plus a cursor.
type fd struct {
	file     *File
	pos      int
	readOnly bool
}

// Process is a simulated user process: a file descriptor table and exit
// status, paired 1:1 with the Thread that runs it. exitSem is upped
// exactly once, when the process exits; Wait downs it.
type Process struct {
	PID     uint64
	thread  *Thread
	exitSem *Semaphore
	mu      sync.Mutex
	fds     map[int]*fd
	nextFD  int
	exited  bool
	exitVal int
}

// Dispatcher wires a Scheduler and FileSystem together behind the
// syscall numbers in SyscallNumber, mirroring the narrow contract C7
// needs from the scheduler: blocking, wake-up, and mutual exclusion over
// shared kernel data.
type Dispatcher struct {
	sched *Scheduler
	fs    *FileSystem

	mu        sync.Mutex
	processes map[uint64]*Process
	nextPID   uint64
}

// NewDispatcher returns a Dispatcher over sched and fs.
func NewDispatcher(sched *Scheduler, fs *FileSystem) *Dispatcher {
	return &Dispatcher{
		sched:     sched,
		fs:        fs,
		processes: make(map[uint64]*Process),
		nextPID:   1,
	}
}

// NewProcess registers a fresh Process for t, with stdin/stdout reserved
// at fds 0 and 1 per the usual convention.
func (d *Dispatcher) NewProcess(t *Thread) *Process {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &Process{
		PID:     d.nextPID,
		thread:  t,
		exitSem: NewSemaphore(d.sched, 0),
		fds:     make(map[int]*fd),
		nextFD:  2,
	}
	d.nextPID++
	d.processes[p.PID] = p
	return p
}

// validatePointer performs the three checks the spec requires of every
// pointer argument: non-null, resident in the user half of the address
// space, and (simulated — there is no real page table here) mapped.
// Any failure is a *UserFault, never a panic.
func validatePointer(name string, addr uintptr, mapped bool) error {
	if addr == 0 {
		return &UserFault{Syscall: name, Reason: "null pointer"}
	}
	if addr >= maxUserAddress {
		return &UserFault{Syscall: name, Reason: "pointer outside user address space"}
	}
	if !mapped {
		return &UserFault{Syscall: name, Reason: "pointer not mapped in caller's page table"}
	}
	return nil
}

// Create adds a zero-filled file named name, size bytes long. It returns
// false if a file of that name already exists.
func (d *Dispatcher) Create(name string, size int) (bool, error) {
	d.fs.lock.Acquire()
	defer d.fs.lock.Release()
	if _, exists := d.fs.files[name]; exists {
		return false, nil
	}
	d.fs.files[name] = &File{Name: name, Data: make([]byte, size)}
	return true, nil
}

// Remove deletes the named file.
func (d *Dispatcher) Remove(name string) (bool, error) {
	d.fs.lock.Acquire()
	defer d.fs.lock.Release()
	if _, exists := d.fs.files[name]; !exists {
		return false, nil
	}
	delete(d.fs.files, name)
	return true, nil
}

// Open opens name for p, returning the new fd, or -1 if name doesn't
// exist (a resource-exhaustion-class failure per §7).
func (d *Dispatcher) Open(p *Process, name string) int {
	d.fs.lock.Acquire()
	f, exists := d.fs.files[name]
	d.fs.lock.Release()
	if !exists {
		return -1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextFD
	p.nextFD++
	p.fds[id] = &fd{file: f, readOnly: f.readOnly}
	return id
}

// Filesize returns the size of the file open at fdNum, or -1.
func (d *Dispatcher) Filesize(p *Process, fdNum int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.fds[fdNum]
	if !ok {
		return -1
	}
	d.fs.lock.Acquire()
	defer d.fs.lock.Release()
	return len(h.file.Data)
}

// Read copies up to n bytes from fdNum's cursor into buf, returning the
// number read, or -1 on a write-only descriptor (there are none of those
// in this simulation, but fd 1/stdout is rejected for symmetry with the
// spec's "read from write-only" failure case).
func (d *Dispatcher) Read(p *Process, fdNum int, buf []byte) int {
	if fdNum == 1 {
		return -1
	}
	p.mu.Lock()
	h, ok := p.fds[fdNum]
	p.mu.Unlock()
	if !ok {
		return -1
	}
	d.fs.lock.Acquire()
	defer d.fs.lock.Release()
	n := copy(buf, h.file.Data[h.pos:])
	h.pos += n
	return n
}

// Write copies up to len(buf) bytes from buf into fdNum at its cursor,
// returning the number written, or -1 on a read-only descriptor / bad fd.
func (d *Dispatcher) Write(p *Process, fdNum int, buf []byte) int {
	if fdNum == 0 {
		return -1
	}
	p.mu.Lock()
	h, ok := p.fds[fdNum]
	p.mu.Unlock()
	if !ok || h.readOnly {
		return -1
	}
	d.fs.lock.Acquire()
	defer d.fs.lock.Release()
	end := h.pos + len(buf)
	if end > len(h.file.Data) {
		grown := make([]byte, end)
		copy(grown, h.file.Data)
		h.file.Data = grown
	}
	n := copy(h.file.Data[h.pos:end], buf)
	h.pos += n
	return n
}

// Seek repositions fdNum's cursor.
func (d *Dispatcher) Seek(p *Process, fdNum, pos int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.fds[fdNum]; ok {
		h.pos = pos
	}
}

// Tell returns fdNum's cursor position, or -1.
func (d *Dispatcher) Tell(p *Process, fdNum int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.fds[fdNum]; ok {
		return h.pos
	}
	return -1
}

// Close releases fdNum.
func (d *Dispatcher) Close(p *Process, fdNum int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fdNum)
}

// Dup2 makes newFD an alias for oldFD, returning newFD, or -1 if oldFD is
// not open.
func (d *Dispatcher) Dup2(p *Process, oldFD, newFD int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.fds[oldFD]
	if !ok {
		return -1
	}
	cp := *h
	p.fds[newFD] = &cp
	return newFD
}

// Exec spawns a new thread running body as the named process's program,
// invoking the spawn path exactly once — the original distillation this
// is based on called the underlying exec primitive twice on one code
// path; this dispatcher calls it exactly once. body receives its own
// Process; a body that returns normally exits with status 0, and a body
// that calls Exit never returns at all. Rate-limited per-caller via
// WithExecRateLimit to guard against fork bombs.
func (d *Dispatcher) Exec(caller *Process, path string, priority int, body func(p *Process)) (*Process, error) {
	if !d.sched.execLim.Allow(caller.thread.TID) {
		return nil, fmt.Errorf("threadsched: exec rate limit exceeded for pid %d", caller.PID)
	}
	d.mu.Lock()
	p := &Process{
		PID:     d.nextPID,
		exitSem: NewSemaphore(d.sched, 0),
		fds:     make(map[int]*fd),
		nextFD:  2,
	}
	d.nextPID++
	d.processes[p.PID] = p
	d.mu.Unlock()

	t, err := d.sched.Spawn(path, priority, func(any) {
		body(p)
		d.Exit(p, 0)
	}, nil)
	if err != nil {
		d.mu.Lock()
		delete(d.processes, p.PID)
		d.mu.Unlock()
		return nil, err
	}
	p.thread = t
	return p, nil
}

// Fork is Exec's sibling for the FORK(name) syscall: same rate limit,
// same single spawn, distinguished only by call site in a full kernel
// (copy-on-write address space duplication is out of scope here).
func (d *Dispatcher) Fork(caller *Process, name string, priority int, body func(p *Process)) (*Process, error) {
	return d.Exec(caller, name, priority, body)
}

// Wait blocks until child has exited, then returns its exit status. At
// most one Wait per child: the exit token is consumed. Called
// "exist_status" in one early revision of the kernel this is modeled on;
// this implementation uses ExitStatus consistently.
func (d *Dispatcher) Wait(child *Process) int {
	child.exitSem.Down()
	child.mu.Lock()
	defer child.mu.Unlock()
	return child.exitVal
}

// Exit records status on the process, releases any waiter, and never
// returns.
func (d *Dispatcher) Exit(p *Process, status int) {
	p.mu.Lock()
	p.exited = true
	p.exitVal = status
	p.mu.Unlock()
	p.exitSem.Up()
	d.sched.Exit(status)
}

// Halt stops the entire scheduler's logical CPU and exits the calling
// thread; used only by the bootstrap process.
func (d *Dispatcher) Halt() {
	d.sched.Stop()
	d.sched.Exit(0)
}

// UserPointer models a pointer-bearing syscall argument as it would arrive
// over the register ABI: a raw address, whether the caller's page table
// actually maps it, and (since this kernel has no real user address space
// to read from) the already-resolved contents a real kernel would copy in
// after validation passes.
type UserPointer struct {
	Addr   uintptr
	Mapped bool
	Value  any // string for path arguments, []byte for read/write buffers
}

func validatedString(name string, up *UserPointer) (string, error) {
	if up == nil {
		return "", &UserFault{Syscall: name, Reason: "null pointer"}
	}
	if err := validatePointer(name, up.Addr, up.Mapped); err != nil {
		return "", err
	}
	s, _ := up.Value.(string)
	return s, nil
}

func validatedBytes(name string, up *UserPointer) ([]byte, error) {
	if up == nil {
		return nil, &UserFault{Syscall: name, Reason: "null pointer"}
	}
	if err := validatePointer(name, up.Addr, up.Mapped); err != nil {
		return nil, err
	}
	b, _ := up.Value.([]byte)
	return b, nil
}

// Dispatch is the syscall entry point: a switch on num routing to the
// matching kernel service, exactly as spec.md §4.7 describes. Every
// pointer-bearing argument is validated (non-null, in the user half of the
// address space, mapped) before any service touches it; a validation
// failure terminates the calling process with status -1 and never panics
// the kernel (spec.md §7, class 3). args is positional per syscall, in the
// same order as the C-ABI signatures in spec.md §6; pointer arguments are
// *UserPointer, everything else is its natural Go type.
func (d *Dispatcher) Dispatch(p *Process, num SyscallNumber, args ...any) int {
	fault := func(err error) int {
		d.Exit(p, -1)
		return -1
	}
	arg := func(i int) any {
		if i < len(args) {
			return args[i]
		}
		return nil
	}
	switch num {
	case SysHalt:
		d.Halt()
		return 0
	case SysExit:
		status, _ := arg(0).(int)
		d.Exit(p, status)
		return 0
	case SysCreate:
		name, err := validatedString("create", asUserPointer(arg(0)))
		if err != nil {
			return fault(err)
		}
		size, _ := arg(1).(int)
		ok, _ := d.Create(name, size)
		return boolToSyscallResult(ok)
	case SysRemove:
		name, err := validatedString("remove", asUserPointer(arg(0)))
		if err != nil {
			return fault(err)
		}
		ok, _ := d.Remove(name)
		return boolToSyscallResult(ok)
	case SysOpen:
		name, err := validatedString("open", asUserPointer(arg(0)))
		if err != nil {
			return fault(err)
		}
		return d.Open(p, name)
	case SysFilesize:
		fdNum, _ := arg(0).(int)
		return d.Filesize(p, fdNum)
	case SysRead:
		fdNum, _ := arg(0).(int)
		buf, err := validatedBytes("read", asUserPointer(arg(1)))
		if err != nil {
			return fault(err)
		}
		return d.Read(p, fdNum, buf)
	case SysWrite:
		fdNum, _ := arg(0).(int)
		buf, err := validatedBytes("write", asUserPointer(arg(1)))
		if err != nil {
			return fault(err)
		}
		return d.Write(p, fdNum, buf)
	case SysSeek:
		fdNum, _ := arg(0).(int)
		pos, _ := arg(1).(int)
		d.Seek(p, fdNum, pos)
		return 0
	case SysTell:
		fdNum, _ := arg(0).(int)
		return d.Tell(p, fdNum)
	case SysClose:
		fdNum, _ := arg(0).(int)
		d.Close(p, fdNum)
		return 0
	case SysDup2:
		oldFD, _ := arg(0).(int)
		newFD, _ := arg(1).(int)
		return d.Dup2(p, oldFD, newFD)
	case SysWait:
		child, _ := arg(0).(*Process)
		if child == nil {
			return fault(&UserFault{Syscall: "wait", Reason: "unknown pid"})
		}
		return d.Wait(child)
	case SysFork, SysExec:
		// FORK/EXEC need an entry point and priority that don't fit the
		// register-marshalling shape Dispatch models; callers use
		// Dispatcher.Exec/Dispatcher.Fork directly, same as a real kernel
		// would special-case the trampoline that sets up the child's
		// initial register frame.
		return fault(&UserFault{Syscall: "exec", Reason: "exec/fork require Dispatcher.Exec/Fork directly"})
	default:
		return fault(&UserFault{Syscall: "dispatch", Reason: "unknown syscall number"})
	}
}

func asUserPointer(v any) *UserPointer {
	up, _ := v.(*UserPointer)
	return up
}

func boolToSyscallResult(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
