package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/syncclient"
)

// itemFixture: элемент справочника в YAML-файле. Порядок в списке задаёт sequence.
type itemFixture struct {
	Name       string         `yaml:"name"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

type masterFixture struct {
	itemFixture `yaml:",inline"`
	Submasters  []itemFixture `yaml:"submasters,omitempty"`
}

// Fixtures: содержимое файла для `catalogctl seed`.
type Fixtures struct {
	Masters          []masterFixture `yaml:"masters"`
	RawMaterials     []itemFixture   `yaml:"raw_materials"`
	Rejections       []itemFixture   `yaml:"rejections"`
	ProductionStages []itemFixture   `yaml:"production_stages"`
}

// creator: часть syncclient.Client, нужная загрузчику.
type creator interface {
	Create(ctx context.Context, kind domain.Kind, in syncclient.NewItem) (syncclient.Item, error)
}

type seedOptions struct {
	file string
}

func newSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &seedOptions{}

	cmd := &cobra.Command{
		Use:   "seed -f <fixtures.yaml>",
		Short: "Create catalog items from a YAML fixtures file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(opts.file)
			if err != nil {
				return fmt.Errorf("read fixtures: %w", err)
			}
			fixtures, err := ParseFixtures(data)
			if err != nil {
				return err
			}
			client, err := rootOpts.client(cmd)
			if err != nil {
				return err
			}

			created, err := seed(cmd.Context(), client, fixtures, cmd.OutOrStdout())
			printf(cmd.OutOrStdout(), "created %d items\n", created)
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "path to the fixtures file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// ParseFixtures разбирает YAML и проверяет, что у каждого элемента есть имя.
func ParseFixtures(data []byte) (Fixtures, error) {
	var fixtures Fixtures
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}

	check := func(kind domain.Kind, items []itemFixture) error {
		for i, item := range items {
			if item.Name == "" {
				return fmt.Errorf("%s[%d]: %w", kind, i, domain.ErrNameRequired)
			}
		}
		return nil
	}

	for i, master := range fixtures.Masters {
		if master.Name == "" {
			return Fixtures{}, fmt.Errorf("%s[%d]: %w", domain.KindMaster, i, domain.ErrNameRequired)
		}
		if err := check(domain.KindSubmaster, master.Submasters); err != nil {
			return Fixtures{}, err
		}
	}
	for _, group := range fixtures.flat() {
		if err := check(group.kind, group.items); err != nil {
			return Fixtures{}, err
		}
	}
	return fixtures, nil
}

type fixtureGroup struct {
	kind  domain.Kind
	items []itemFixture
}

// flat возвращает справочники без иерархии в порядке загрузки.
func (f Fixtures) flat() []fixtureGroup {
	return []fixtureGroup{
		{domain.KindRawMaterial, f.RawMaterials},
		{domain.KindRejection, f.Rejections},
		{domain.KindProductionStage, f.ProductionStages},
	}
}

// seed создаёт элементы по порядку и возвращает число созданных.
// Загрузка останавливается на первой ошибке.
func seed(ctx context.Context, client creator, fixtures Fixtures, out io.Writer) (int, error) {
	created := 0
	create := func(kind domain.Kind, parentID string, item itemFixture) (syncclient.Item, error) {
		in, err := item.newItem(parentID)
		if err != nil {
			return syncclient.Item{}, fmt.Errorf("%s %q: %w", kind, item.Name, err)
		}
		result, err := client.Create(ctx, kind, in)
		if err != nil {
			return syncclient.Item{}, fmt.Errorf("create %s %q: %w", kind, item.Name, err)
		}
		created++
		printf(out, "%s\t%d\t%s\t%s\n", kind, result.Sequence, result.ID, result.Name)
		return result, nil
	}

	for _, master := range fixtures.Masters {
		parent, err := create(domain.KindMaster, "", master.itemFixture)
		if err != nil {
			return created, err
		}
		for _, sub := range master.Submasters {
			if _, err := create(domain.KindSubmaster, parent.ID, sub); err != nil {
				return created, err
			}
		}
	}

	for _, group := range fixtures.flat() {
		for _, item := range group.items {
			if _, err := create(group.kind, "", item); err != nil {
				return created, err
			}
		}
	}
	return created, nil
}

func (f itemFixture) newItem(parentID string) (syncclient.NewItem, error) {
	in := syncclient.NewItem{ParentID: parentID, Name: f.Name}
	if len(f.Attributes) > 0 {
		raw, err := json.Marshal(f.Attributes)
		if err != nil {
			return syncclient.NewItem{}, fmt.Errorf("encode attributes: %w", err)
		}
		in.Attributes = raw
	}
	return in, nil
}
