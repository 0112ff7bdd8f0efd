package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"vmm"
)

const (
	codeBase = vmm.VAddr(0x400000)
	heapBase = vmm.VAddr(0x10000000)
	mmapBase = vmm.VAddr(0x20000000)
)

type demoCmd struct {
	pages int
}

func (*demoCmd) Name() string     { return "demo" }
func (*demoCmd) Synopsis() string { return "run a process through loading, paging, stack growth and fork" }
func (*demoCmd) Usage() string {
	return "demo [-pages n]\n"
}

func (c *demoCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.pages, "pages", 64, "anonymous heap pages to touch")
}

func (c *demoCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	vm, done, err := openVM()
	if err != nil {
		return fail(err)
	}
	defer done()
	if err := runDemo(vm, c.pages); err != nil {
		return fail(err)
	}
	printStats(vm)
	return subcommands.ExitSuccess
}

func runDemo(vm *vmm.VM, pages int) error {
	// a two page program image, the second page half filled
	image := bytes.Repeat([]byte("text"), (vmm.PageSize+vmm.PageSize/2)/4)
	exe := vmm.NewInode("demo", image).Open()
	exe.DenyWrite()
	defer exe.Close()

	as := vm.NewAddressSpace()
	defer as.Exit()
	if err := as.LoadSegment(exe, 0, codeBase, len(image), 2*vmm.PageSize-len(image), false); err != nil {
		return err
	}
	if err := as.SetupStack(); err != nil {
		return err
	}
	got, err := as.Read(codeBase, 4)
	if err != nil {
		return err
	}
	fmt.Printf("code: %q\n", got)

	for i := 0; i < pages; i++ {
		va := heapBase + vmm.VAddr(i)*vmm.PageSize
		if err := as.AllocPage(vmm.TypeAnon, va, true); err != nil {
			return err
		}
		if err := as.Write(va, []byte(fmt.Sprintf("page %d", i))); err != nil {
			return err
		}
	}
	for i := 0; i < pages; i++ {
		va := heapBase + vmm.VAddr(i)*vmm.PageSize
		want := fmt.Sprintf("page %d", i)
		got, err := as.Read(va, len(want))
		if err != nil {
			return err
		}
		if string(got) != want {
			return errors.Errorf("heap page %d reads %q", i, got)
		}
	}

	// push below the initial stack page
	sp := as.StackPointer() - 2*vmm.PageSize
	as.SetStackPointer(sp)
	if err := as.Write(sp, []byte("frame")); err != nil {
		return err
	}

	child, err := as.Fork()
	if err != nil {
		return err
	}
	defer child.Exit()
	if err := child.Write(heapBase, []byte("child")); err != nil {
		return err
	}
	parent, err := as.Read(heapBase, 5)
	if err != nil {
		return err
	}
	fmt.Printf("after fork: parent %q, child wrote %q\n", parent, "child")
	fmt.Printf("space %d: %+v\n", as.ID(), as.Stats())
	return nil
}

type mmapCmd struct {
	offset int64
	text   string
}

func (*mmapCmd) Name() string     { return "mmap" }
func (*mmapCmd) Synopsis() string { return "map a host file, write into it and unmap" }
func (*mmapCmd) Usage() string {
	return "mmap [-offset n] [-text s] <file>\n"
}

func (c *mmapCmd) SetFlags(f *flag.FlagSet) {
	f.Int64Var(&c.offset, "offset", 0, "page aligned file offset")
	f.StringVar(&c.text, "text", "", "text written at the start of the mapping")
}

func (c *mmapCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	vm, done, err := openVM()
	if err != nil {
		return fail(err)
	}
	defer done()

	file, err := vmm.OpenOSFile(f.Arg(0))
	if err != nil {
		return fail(err)
	}
	defer file.Close()
	length := int(file.Length() - c.offset)
	if length <= 0 {
		return fail(errors.Errorf("%s has nothing past offset %d", f.Arg(0), c.offset))
	}

	as := vm.NewAddressSpace()
	defer as.Exit()
	addr, err := as.Mmap(mmapBase, length, c.text != "", file, c.offset)
	if err != nil {
		return fail(err)
	}
	head, err := as.Read(addr, min(length, 64))
	if err != nil {
		return fail(err)
	}
	fmt.Printf("%s+%d: %q\n", f.Arg(0), c.offset, head)
	if c.text != "" {
		if err := as.Write(addr, []byte(c.text)[:min(len(c.text), length)]); err != nil {
			return fail(err)
		}
	}
	if err := as.Munmap(addr); err != nil {
		return fail(err)
	}
	printStats(vm)
	return subcommands.ExitSuccess
}

type stressCmd struct {
	procs  int
	pages  int
	rounds int
}

func (*stressCmd) Name() string     { return "stress" }
func (*stressCmd) Synopsis() string { return "page concurrently from many address spaces" }
func (*stressCmd) Usage() string {
	return "stress [-procs n] [-pages n] [-rounds n]\n"
}

func (c *stressCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.procs, "procs", 4, "address spaces")
	f.IntVar(&c.pages, "pages", 128, "pages per address space")
	f.IntVar(&c.rounds, "rounds", 4, "verification rounds")
}

func (c *stressCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	vm, done, err := openVM()
	if err != nil {
		return fail(err)
	}
	defer done()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.procs; i++ {
		g.Go(func() error {
			return c.run(ctx, vm, byte(i))
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	printStats(vm)
	return subcommands.ExitSuccess
}

func (c *stressCmd) run(ctx context.Context, vm *vmm.VM, tag byte) error {
	as := vm.NewAddressSpace()
	defer as.Exit()
	for i := 0; i < c.pages; i++ {
		va := heapBase + vmm.VAddr(i)*vmm.PageSize
		if err := as.AllocPage(vmm.TypeAnon, va, true); err != nil {
			return err
		}
		if err := as.Write(va, []byte{tag, byte(i)}); err != nil {
			return err
		}
	}
	for r := 0; r < c.rounds; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := c.pages - 1; i >= 0; i-- {
			va := heapBase + vmm.VAddr(i)*vmm.PageSize
			got, err := as.Read(va, 2)
			if err != nil {
				return err
			}
			if got[0] != tag || got[1] != byte(i) {
				return errors.Errorf("space %d page %d round %d: got %v", as.ID(), i, r, got)
			}
		}
	}
	return nil
}
