package authz

// defaultPolicies lets the owner of a table do anything with it.
// Nobody else is permitted, so a missing match is a deny.
const defaultPolicies = `
permit(
  principal,
  action in [
    Sheetsync::Action::"read",
    Sheetsync::Action::"write",
    Sheetsync::Action::"delete"
  ],
  resource
) when {
  resource.owner == principal
};
`
