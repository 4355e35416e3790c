package config

import (
	"fmt"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// LoadResult is everything the daemon needs out of a configuration load.
type LoadResult struct {
	MainCfg    *MainConfig
	UserMacros [MaxUserMacros]string
	Store      *objects.ObjectStore
}

// LoadConfig runs the whole startup configuration sequence: the main config
// file, its resource files, every object config file and directory it names,
// template inheritance, and finally the build pass that produces the
// pointer-linked object store.
func LoadConfig(mainConfigPath string) (*LoadResult, error) {
	mainCfg, err := ReadMainConfig(mainConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading main config: %w", err)
	}

	result := &LoadResult{MainCfg: mainCfg}
	for _, rf := range mainCfg.ResourceFiles {
		if err := ReadResourceFile(rf, &result.UserMacros); err != nil {
			return nil, fmt.Errorf("error reading resource file: %w", err)
		}
	}

	set := NewDefinitionSet()
	for _, cf := range mainCfg.CfgFiles {
		if err := set.LoadFile(cf); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	for _, cd := range mainCfg.CfgDirs {
		if err := set.LoadDir(cd); err != nil {
			return nil, fmt.Errorf("error parsing config dir: %w", err)
		}
	}

	if err := set.ResolveInheritance(); err != nil {
		return nil, fmt.Errorf("error resolving templates: %w", err)
	}

	result.Store = objects.NewObjectStore()
	if err := BuildStore(set, result.Store); err != nil {
		return nil, fmt.Errorf("error expanding objects: %w", err)
	}
	return result, nil
}

// VerifyConfig is the -v path: a full load followed by the pre-flight
// validation sweep, returning every problem found rather than the first.
func VerifyConfig(mainConfigPath string) (*LoadResult, []error) {
	result, err := LoadConfig(mainConfigPath)
	if err != nil {
		return nil, []error{err}
	}
	return result, Validate(result.Store)
}
