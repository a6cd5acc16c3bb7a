package catalog

import "strings"

// Wire shapes of the catalog REST API. Keys with dots are literal JSON keys.

type wireAsset struct {
	Identity string `json:"core.identity"`
	Summary  struct {
		Name string `json:"core.name"`
	} `json:"summary"`
	SystemAttributes struct {
		ClassType string `json:"core.classType"`
	} `json:"systemAttributes"`
	SelfAttributes struct {
		ResourceName string `json:"core.resourceName"`
		ResourceType string `json:"core.resourceType"`
	} `json:"selfAttributes"`
	Lineage []wireLineage `json:"lineage"`
}

type wireLineage struct {
	Direction string    `json:"direction"`
	Hops      []wireHop `json:"hops"`
}

type wireHop struct {
	Distance int        `json:"distance"`
	Items    []wireItem `json:"items"`
}

type wireItem struct {
	From     string `json:"from"`
	FromType string `json:"fromType"`
	To       string `json:"to"`
	ToType   string `json:"toType"`
	Details  struct {
		FromURI string `json:"fromUri"`
		ToURI   string `json:"toUri"`
	} `json:"details"`
}

func (w wireAsset) asset() Asset {
	a := Asset{
		ID:           w.Identity,
		Name:         w.Summary.Name,
		ClassType:    w.SystemAttributes.ClassType,
		ResourceName: w.SelfAttributes.ResourceName,
		ResourceType: w.SelfAttributes.ResourceType,
	}
	for _, l := range w.Lineage {
		group := LineageGroup{Direction: Direction(strings.ToLower(l.Direction))}
		for _, h := range l.Hops {
			hop := LineageHop{Distance: h.Distance}
			for _, it := range h.Items {
				hop.Items = append(hop.Items, LineageItem{
					From:     it.From,
					FromType: it.FromType,
					To:       it.To,
					ToType:   it.ToType,
					FromURI:  it.Details.FromURI,
					ToURI:    it.Details.ToURI,
				})
			}
			group.Hops = append(group.Hops, hop)
		}
		a.Lineage = append(a.Lineage, group)
	}
	return a
}

// knowledge-graph search (data360) response
type wireSearchResult struct {
	Summary struct {
		TotalHits int `json:"total_hits"`
	} `json:"summary"`
	Hits []wireAsset `json:"hits"`
}

type wireFilter struct {
	Type string `json:"type"`
	Expr string `json:"expr"`
}

type wireSearchRequest struct {
	From       int          `json:"from"`
	Size       int          `json:"size"`
	FilterSpec []wireFilter `json:"filterSpec,omitempty"`
}

// searchv2 (elasticsearch dialect) request and response
type esTerms map[string]map[string][]string

type esBool struct {
	Must   []esTerms `json:"must"`
	Filter []esTerms `json:"filter,omitempty"`
}

type esQuery struct {
	Bool esBool `json:"bool"`
}

type esRequest struct {
	From  int     `json:"from"`
	Size  int     `json:"size"`
	Query esQuery `json:"query"`
}

func terms(field string, values ...string) esTerms {
	return esTerms{"terms": {field: values}}
}

type esResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	Attributes struct {
		Name      string `json:"core.name"`
		Identity  string `json:"core.identity"`
		ClassType string `json:"core.classType"`
	} `json:"attributes"`
	SourceAsMap struct {
		SourceIdentity string   `json:"core.sourceIdentity"`
		TargetIdentity string   `json:"core.targetIdentity"`
		Type           []string `json:"type"`
	} `json:"sourceAsMap"`
}

// publish request and response
type publishItem struct {
	ElementType  string            `json:"elementType"`
	Identity     string            `json:"identity,omitempty"`
	FromIdentity string            `json:"fromIdentity,omitempty"`
	ToIdentity   string            `json:"toIdentity,omitempty"`
	Operation    string            `json:"operation"`
	Type         string            `json:"type"`
	IdentityType string            `json:"identityType"`
	Attributes   map[string]string `json:"attributes"`
}

type publishRequest struct {
	Items []publishItem `json:"items"`
}

type publishResponse struct {
	Items []struct {
		MessageCode string `json:"messageCode"`
		Validations []struct {
			Results []struct {
				MessageCode string `json:"messageCode"`
			} `json:"results"`
		} `json:"validations"`
	} `json:"items"`
}

func (p publishResponse) result() DeleteResult {
	var out DeleteResult
	for _, it := range p.Items {
		item := DeleteItem{MessageCode: it.MessageCode}
		for _, v := range it.Validations {
			for _, r := range v.Results {
				if r.MessageCode != "" {
					item.Reasons = append(item.Reasons, r.MessageCode)
				}
			}
		}
		out.Items = append(out.Items, item)
	}
	return out
}

type wireSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type wireSources struct {
	Datasources []wireSource `json:"datasources"`
}

type wireJob struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}
