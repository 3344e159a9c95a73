package qdrant

import (
	"strings"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// Payload field names shared by both collections. The step tier carries
// the parent's filterable fields denormalised, so one translation serves
// both.
const (
	fieldUID            = "uid"
	fieldParentUID      = "parent_uid"
	fieldStepIndex      = "step_index"
	fieldExternalKey    = "external_key"
	fieldPriority       = "priority"
	fieldTestType       = "test_type"
	fieldTags           = "tags"
	fieldPlatforms      = "platforms"
	fieldRelatedKeys    = "related_keys"
	fieldFolderPrefixes = "folder_prefixes"
	fieldDoc            = "doc"
	fieldStep           = "step"
)

// translateFilter compiles a validated domain filter into a Qdrant
// filter. The glob pattern is only pushed down when it is literal;
// wildcard patterns are evaluated client-side after the search (see
// globPostFilter).
func translateFilter(f *domain.Filter) *pb.Filter {
	if f.IsZero() {
		return nil
	}

	var must []*pb.Condition

	// Superset semantics: one keyword condition per required value.
	for _, tag := range f.Tags {
		must = append(must, matchKeyword(fieldTags, tag))
	}
	for _, platform := range f.Platforms {
		must = append(must, matchKeyword(fieldPlatforms, platform))
	}
	if f.Priority != "" {
		must = append(must, matchKeyword(fieldPriority, f.Priority))
	}
	if f.TestType != "" {
		must = append(must, matchKeyword(fieldTestType, f.TestType))
	}
	if len(f.FolderPrefix) > 0 {
		// Every prefix of a doc's folder path is indexed as a joined
		// string, so a prefix query is a single keyword match.
		must = append(must, matchKeyword(fieldFolderPrefixes, joinFolder(f.FolderPrefix)))
	}
	if len(f.RelatedKeys) > 0 {
		// Intersection semantics: any of the given keys.
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key: fieldRelatedKeys,
				Match: &pb.Match{MatchValue: &pb.Match_Keywords{
					Keywords: &pb.RepeatedStrings{Strings: f.RelatedKeys},
				}},
			}},
		})
	}
	if f.ExternalKeyPattern != "" && isLiteralPattern(f.ExternalKeyPattern) {
		must = append(must, matchKeyword(fieldExternalKey, f.ExternalKeyPattern))
	}

	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

// needsGlobPostFilter reports whether the filter carries a wildcard
// pattern the store cannot evaluate server-side.
func needsGlobPostFilter(f *domain.Filter) bool {
	return !f.IsZero() && f.ExternalKeyPattern != "" && !isLiteralPattern(f.ExternalKeyPattern)
}

func isLiteralPattern(pattern string) bool {
	return !strings.ContainsAny(pattern, "*?")
}

func matchKeyword(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   key,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
		}},
	}
}

func matchUID(key, uid string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{matchKeyword(key, uid)}}
}

// joinFolder renders a folder path as its canonical joined form.
func joinFolder(path []string) string {
	return strings.Join(path, "/")
}

// folderPrefixes lists every prefix of a folder path in joined form,
// which is what the folder_prefixes payload field stores.
func folderPrefixes(path []string) []string {
	prefixes := make([]string, 0, len(path))
	for i := 1; i <= len(path); i++ {
		prefixes = append(prefixes, joinFolder(path[:i]))
	}
	return prefixes
}
