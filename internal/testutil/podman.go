package testutil

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"hostfleet/internal/runner"
	"hostfleet/internal/types"
)

// FakePodman answers podman subcommands through a FakeRunner.
type FakePodman struct {
	mu         sync.Mutex
	containers map[string]types.Container
	images     []types.Image
	nextID     int

	// MountDir is returned by `podman volume mount`.
	MountDir string
	// FailPull makes `podman pull` fail for these references.
	FailPull map[string]bool
}

// NewFakePodman creates an empty fake container engine.
func NewFakePodman(mountDir string) *FakePodman {
	return &FakePodman{
		containers: make(map[string]types.Container),
		MountDir:   mountDir,
		FailPull:   make(map[string]bool),
	}
}

// Install registers the fake's handler on r.
func (p *FakePodman) Install(r *FakeRunner) {
	r.Handle("podman", p.podman)
}

// AddContainer registers an existing container.
func (p *FakePodman) AddContainer(name, image, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.containers[name] = types.Container{ID: fmt.Sprintf("%012x", p.nextID), Name: name, Image: image, Status: status}
}

// AddImage registers a local image.
func (p *FakePodman) AddImage(repository, tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addImage(repository, tag)
}

// Containers returns the names of existing containers.
func (p *FakePodman) Containers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for name := range p.containers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *FakePodman) addImage(repository, tag string) {
	p.nextID++
	p.images = append(p.images, types.Image{
		Repository: repository,
		Tag:        tag,
		ID:         fmt.Sprintf("%012x", p.nextID),
		Created:    "2 days ago",
	})
}

func (p *FakePodman) podman(args []string) *runner.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(args) == 0 {
		return Exit(125, "missing command")
	}

	switch args[0] {
	case "container":
		if len(args) == 3 && args[1] == "exists" {
			if _, ok := p.containers[args[2]]; ok {
				return OK("")
			}
			return Exit(1, "")
		}
	case "ps":
		var b strings.Builder
		for _, name := range sortedKeys(p.containers) {
			c := p.containers[name]
			fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Image, c.Status)
		}
		return OK(b.String())
	case "images":
		var b strings.Builder
		for _, img := range p.images {
			fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", img.Repository, img.Tag, img.ID, img.Created)
		}
		return OK(b.String())
	case "pull":
		ref := args[len(args)-1]
		if p.FailPull[ref] {
			return Exit(125, "Error: initializing source docker://"+ref+": manifest unknown")
		}
		repo, tag, _ := strings.Cut(ref, ":")
		p.addImage(repo, tag)
		return OK("")
	case "volume":
		if len(args) >= 2 && args[1] == "mount" {
			return OK(p.MountDir + "\n")
		}
		return OK("")
	case "create":
		name := ""
		for i := 1; i < len(args)-1; i++ {
			if args[i] == "--name" {
				name = args[i+1]
			}
		}
		p.nextID++
		id := fmt.Sprintf("%064x", p.nextID)
		if name == "" {
			name = id[:12]
		}
		p.containers[name] = types.Container{ID: id, Name: name, Image: args[len(args)-1], Status: "Created"}
		return OK(id + "\n")
	case "rm":
		target := args[len(args)-1]
		for name, c := range p.containers {
			if name == target || c.ID == target {
				delete(p.containers, name)
				return OK(target + "\n")
			}
		}
		return Exit(1, "Error: no container with name or ID \""+target+"\" found: no such container")
	}
	return OK("")
}

func sortedKeys(m map[string]types.Container) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
